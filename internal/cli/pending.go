package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/approvalq/internal/api"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unsent queue rows",
	Long:  "List the instance's queue rows that have not yet gone out in a digest, oldest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		name, err := resolveInstance()
		if err != nil {
			return err
		}

		registry, err := openRegistry(ctx, GetConfig(), true)
		if err != nil {
			return err
		}
		defer registry.Close()

		inst, err := registry.Get(name)
		if err != nil {
			return err
		}
		rows, err := inst.Pending.ListUnsent(ctx, name)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			out := make([]api.PendingRow, 0, len(rows))
			for _, row := range rows {
				out = append(out, api.PendingRow{
					ID:           row.ID,
					RecipientID:  row.RecipientID,
					ApprovalType: string(row.ApprovalType),
					ItemID:       row.ItemID,
					ItemDetails:  row.ItemDetails,
					CreatedAt:    row.CreatedAt,
				})
			}
			return WriteOutput(stdout(), out)
		}
		if IsQuiet() {
			return nil
		}

		now := time.Now()
		table := make([][]string, 0, len(rows))
		for _, row := range rows {
			table = append(table, []string{
				shortID(row.ID),
				row.RecipientID,
				string(row.ApprovalType),
				row.ItemID,
				formatAge(now.Sub(row.CreatedAt)),
			})
		}
		return writeTable(stdout(), []tableColumn{col("ROW"), col("RECIPIENT"), col("TYPE"), wideCol("ITEM", 24), col("AGE")}, table)
	},
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return d.Truncate(time.Minute).String()
	default:
		return d.Truncate(time.Hour).String()
	}
}
