package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/models"
)

var migrateDryRun bool

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report pending migrations without applying them")
}

// MigrationReport summarizes migrations for one instance.
type MigrationReport struct {
	Instance string   `json:"instance"`
	Pending  []string `json:"pending"`
	Applied  int      `json:"applied"`
	DryRun   bool     `json:"dry_run"`
	Error    string   `json:"error,omitempty"`
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply queue schema migrations",
	Long: `Apply pending queue schema migrations to every configured instance,
or only to --instance when given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		registry, err := openRegistry(ctx, GetConfig(), false)
		if err != nil {
			return err
		}
		defer registry.Close()

		names := registry.Names()
		if instanceFlag != "" {
			names = []string{instanceFlag}
		}

		reports := make([]MigrationReport, 0, len(names))
		var failed []error
		for _, name := range names {
			report := MigrationReport{Instance: name, DryRun: migrateDryRun, Pending: []string{}}
			if err := migrateInstance(ctx, registry, &report); err != nil {
				if errors.Is(err, models.ErrUnknownInstance) {
					return err
				}
				report.Error = err.Error()
				failed = append(failed, err)
			}
			reports = append(reports, report)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(stdout(), reports); err != nil {
				return err
			}
			return errors.Join(failed...)
		}
		if IsQuiet() {
			return errors.Join(failed...)
		}

		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			action := "applied " + formatCount(r.Applied)
			switch {
			case r.Error != "":
				action = "failed: " + r.Error
			case r.DryRun:
				action = "dry run"
			}
			rows = append(rows, []string{r.Instance, formatCount(len(r.Pending)), action})
		}
		if err := writeTable(stdout(), []tableColumn{col("INSTANCE"), countCol("PENDING"), wideCol("ACTION", 72)}, rows); err != nil {
			return err
		}
		return errors.Join(failed...)
	},
}

func migrateInstance(ctx context.Context, registry *instance.Registry, report *MigrationReport) error {
	store, err := registry.Store(report.Instance)
	if err != nil {
		return err
	}
	states, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("instance %s: %w", report.Instance, err)
	}
	for _, state := range states {
		if !state.Applied {
			report.Pending = append(report.Pending, state.Path)
		}
	}
	if !report.DryRun && len(report.Pending) > 0 {
		report.Applied, err = store.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("instance %s: %w", report.Instance, err)
		}
	}
	return nil
}
