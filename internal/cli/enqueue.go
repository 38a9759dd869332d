package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/models"
)

var (
	enqueueDetails     string
	enqueueDetailsFile string
)

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().StringVar(&enqueueDetails, "details", "", "item details as a JSON object")
	enqueueCmd.Flags().StringVar(&enqueueDetailsFile, "details-file", "", "read item details from a JSON file")
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <approval-type> <item-id>",
	Short: "Queue an approval event",
	Long: `Queue an approval event for every eligible administrator of the instance.

Approval types: payment, tracker_entry.`,
	Example: `  approvalq enqueue payment 42 --details '{"loan_name":"Home Loan","amount":"125000"}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		name, err := resolveInstance()
		if err != nil {
			return err
		}
		approvalType, err := models.ParseApprovalType(args[0])
		if err != nil {
			return fmt.Errorf("%w: %s", err, args[0])
		}
		details, err := readDetails()
		if err != nil {
			return err
		}

		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		outcomes, err := eng.enqueue.Enqueue(ctx, name, approvalType, strings.TrimSpace(args[1]), details)
		if IsJSONOutput() || IsJSONLOutput() {
			if outErr := WriteOutput(stdout(), outcomes); outErr != nil {
				return outErr
			}
			return err
		}
		if err != nil {
			return err
		}
		if IsQuiet() {
			return nil
		}
		if len(outcomes) == 0 {
			fmt.Fprintln(stdout(), "No eligible recipients.")
			return nil
		}

		queued := 0
		rows := make([][]string, 0, len(outcomes))
		for _, o := range outcomes {
			if o.Status == enqueue.StatusQueued {
				queued++
			}
			rows = append(rows, []string{o.RecipientID, string(o.Status), shortID(o.RowID)})
		}
		if err := writeTable(stdout(), []tableColumn{col("RECIPIENT"), col("STATUS"), col("ROW")}, rows); err != nil {
			return err
		}
		PrintNextSteps(stdout(), HintContext{Action: "enqueue", Instance: name, Queued: queued})
		return nil
	},
}

func readDetails() (json.RawMessage, error) {
	raw := strings.TrimSpace(enqueueDetails)
	if enqueueDetailsFile != "" {
		if raw != "" {
			return nil, fmt.Errorf("use only one of --details and --details-file")
		}
		data, err := os.ReadFile(enqueueDetailsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read details file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("item details are not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
