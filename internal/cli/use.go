package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/approvalq/internal/config"
)

var (
	useClear    bool
	contextPath string
)

func init() {
	rootCmd.AddCommand(useCmd)
	useCmd.Flags().BoolVar(&useClear, "clear", false, "clear the selected instance")
}

func loadContext() (*config.Context, error) {
	return config.NewContextStore(contextPath).Load()
}

var useCmd = &cobra.Command{
	Use:   "use [instance]",
	Short: "Select the default instance",
	Long: `Select the instance later commands act on when --instance is not given.
With no argument the current selection is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewContextStore(contextPath)
		current, err := store.Load()
		if err != nil {
			return err
		}

		switch {
		case useClear:
			if err := store.Clear(); err != nil {
				return err
			}
			current.Clear()
		case len(args) == 1:
			name := strings.TrimSpace(args[0])
			known := false
			for _, n := range GetConfig().InstanceNames() {
				if n == name {
					known = true
					break
				}
			}
			if !known {
				return &PreflightError{
					Message:  fmt.Sprintf("unknown instance %q", name),
					Hint:     "Configured instances: " + strings.Join(GetConfig().InstanceNames(), ", "),
					NextStep: "approvalq instances",
				}
			}
			current.SetInstance(name)
			if err := store.Save(current); err != nil {
				return err
			}
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(stdout(), current)
		}
		if !IsQuiet() {
			fmt.Fprintln(stdout(), current.String())
		}
		PrintNextSteps(stdout(), HintContext{Action: "use", Instance: current.Instance})
		return nil
	},
}
