package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(instancesCmd)
}

// InstanceStatus is one row of the instances listing.
type InstanceStatus struct {
	Name     string `json:"name"`
	Store    string `json:"store"`
	Pending  int    `json:"pending"`
	Selected bool   `json:"selected"`
	Error    string `json:"error,omitempty"`
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List configured instances",
	Long:  "List configured tenant instances with their store and unsent row count.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg := GetConfig()

		registry, err := openRegistry(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer registry.Close()

		selected := ""
		if saved, err := loadContext(); err == nil {
			selected = saved.Instance
		}

		statuses := make([]InstanceStatus, 0, len(cfg.Instances))
		for _, inst := range cfg.Instances {
			status := InstanceStatus{
				Name:     inst.Name,
				Store:    cfg.InstanceDatabasePath(inst),
				Selected: inst.Name == selected,
			}
			if inst.DSN != "" {
				status.Store = "postgres"
			}
			if opened, err := registry.Get(inst.Name); err != nil {
				status.Error = err.Error()
			} else if status.Pending, err = opened.Pending.CountUnsent(ctx, inst.Name); err != nil {
				status.Error = err.Error()
			}
			statuses = append(statuses, status)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(stdout(), statuses)
		}
		if IsQuiet() {
			return nil
		}

		rows := make([][]string, 0, len(statuses))
		for _, s := range statuses {
			pending := formatCount(s.Pending)
			if s.Error != "" {
				pending = "unavailable"
			}
			rows = append(rows, []string{s.Name, formatYesNo(s.Selected), pending, s.Store})
		}
		return writeTable(stdout(), []tableColumn{col("INSTANCE"), col("SELECTED"), countCol("PENDING"), wideCol("STORE", 60)}, rows)
	},
}
