package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/approvalq/internal/sweep"
)

var sweepAll bool

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepAll, "all", false, "sweep every configured instance")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one collation pass",
	Long: `Send a digest to every administrator with due queue rows and mark those
rows sent. Rows whose delivery fails stay queued for the next pass.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var name string
		if !sweepAll {
			var err error
			if name, err = resolveInstance(); err != nil {
				return err
			}
		}

		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		var reports []sweep.Report
		var runErr error
		if sweepAll {
			reports = eng.sweeper.RunAll(ctx)
		} else {
			report, err := eng.sweeper.Run(ctx, name)
			reports = []sweep.Report{report}
			runErr = err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(stdout(), reports); err != nil {
				return err
			}
		} else if !IsQuiet() {
			if err := writeSweepReports(reports); err != nil {
				return err
			}
		}

		for _, r := range reports {
			if r.Failed() {
				PrintNextSteps(stdout(), HintContext{Action: "sweep", Instance: r.Instance, Failed: true})
				if runErr != nil {
					return runErr
				}
				return fmt.Errorf("sweep of %s did not complete cleanly", r.Instance)
			}
		}
		return runErr
	},
}

func writeSweepReports(reports []sweep.Report) error {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		status := "ok"
		switch {
		case r.Locked:
			status = "locked"
		case r.Failed():
			status = "failed"
		case r.Due == 0:
			status = "idle"
		}
		rows = append(rows, []string{r.Instance, status, formatCount(r.Due), formatCount(r.Sent), formatCount(len(r.Digests))})
	}
	if err := writeTable(stdout(), []tableColumn{col("INSTANCE"), col("STATUS"), countCol("DUE"), countCol("SENT"), countCol("DIGESTS")}, rows); err != nil {
		return err
	}

	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(stdout(), "\n%s: %s\n", r.Instance, r.Error)
		}
		var problems []string
		for _, d := range r.Digests {
			if d.Result != sweep.ResultSent {
				problems = append(problems, fmt.Sprintf("  recipient %s: %s (%s)", d.RecipientID, d.Result, d.Error))
			}
		}
		if len(problems) > 0 {
			fmt.Fprintf(stdout(), "\n%s:\n%s\n", r.Instance, strings.Join(problems, "\n"))
		}
	}
	return nil
}
