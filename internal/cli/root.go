// Package cli implements the approvalq command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/logging"
)

var (
	cfgFile      string
	envFile      string
	jsonOutput   bool
	jsonlOutput  bool
	quietOutput  bool
	logLevelFlag string
	instanceFlag string

	appConfig  *config.Config
	logCloser  io.Closer
	appVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "approvalq",
	Short: "Queue and collate approval notifications",
	Long: `approvalq queues approval-required events per tenant instance and
sends each administrator one collated digest once the delay window has passed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/approvalq/config.yaml)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file loaded before the environment is read")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVarP(&quietOutput, "quiet", "q", false, "suppress human-readable output")
	flags.StringVar(&logLevelFlag, "log-level", "", "override logging level (debug, info, warn, error)")
	flags.StringVarP(&instanceFlag, "instance", "i", "", "tenant instance (defaults to the selected context)")
}

// Execute runs the root command.
func Execute(version string) error {
	appVersion = version
	rootCmd.Version = version
	return rootCmd.Execute()
}

func initConfig(cmd *cobra.Command, args []string) error {
	if appConfig != nil {
		return nil
	}

	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	if envFile != "" {
		loader.SetEnvFile(envFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}

	logCloser = logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
		File: logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	})
	if used := loader.ConfigFileUsed(); used != "" {
		logger := logging.Component("cli")
		logger.Debug().Str("config_file", used).Msg("loaded config file")
	}

	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return appConfig
}

// IsJSONOutput reports whether --json was given.
func IsJSONOutput() bool { return jsonOutput }

// IsJSONLOutput reports whether --jsonl was given.
func IsJSONLOutput() bool { return jsonlOutput }

// IsQuiet reports whether human-readable output is suppressed.
func IsQuiet() bool { return quietOutput }

// WriteOutput writes v as indented JSON, or one line per element with --jsonl.
func WriteOutput(w io.Writer, v any) error {
	if IsJSONLOutput() {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			encoder := json.NewEncoder(w)
			for i := 0; i < rv.Len(); i++ {
				if err := encoder.Encode(rv.Index(i).Interface()); err != nil {
					return err
				}
			}
			return nil
		}
		return json.NewEncoder(w).Encode(v)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// PreflightError is a user-facing error with a hint.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

func stdout() io.Writer { return rootCmd.OutOrStdout() }

func stderr() io.Writer { return os.Stderr }
