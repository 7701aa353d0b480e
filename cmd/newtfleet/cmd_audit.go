package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtfleet/pkg/audit"
	"github.com/newtron-network/newtfleet/pkg/cli"
	"github.com/newtron-network/newtfleet/pkg/fleet"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	Long: `View the audit log of state-changing operations.

Every config push, shell command, and file push is logged per device with:
  - Timestamp and user
  - Batch ID
  - Device and operation
  - Changes applied
  - Outcome

Examples:
  newtfleet audit list --device 10.0.0.1
  newtfleet audit list --last 24h --failures
  newtfleet audit list --batch 3f6c...`,
}

var (
	auditDevice   string
	auditUser     string
	auditBatch    string
	auditKind     string
	auditLast     string
	auditLimit    int
	auditFailures bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := userSettings.GetAuditLog()
		if path == "" {
			return fmt.Errorf("audit logging is disabled (settings audit_log is off)")
		}

		filter := audit.Filter{
			Device:      auditDevice,
			User:        auditUser,
			BatchID:     auditBatch,
			Operation:   fleet.OpKind(auditKind),
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		logger, err := audit.NewFileLogger(path, audit.RotationConfig{})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logger.Close()

		events, err := logger.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if app.jsonOutput {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		if len(events) == 0 {
			fmt.Fprintln(stdout, "No audit events found")
			return nil
		}

		t := cli.NewTableTo(stdout, "TIMESTAMP", "USER", "DEVICE", "OPERATION", "CHANGES", "STATUS")
		for _, e := range events {
			status := cli.Status(string(e.Outcome))
			if e.ErrorKind != "" {
				status += " (" + string(e.ErrorKind) + ")"
			}
			t.Row(
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.User,
				e.Device,
				e.Description,
				fmt.Sprintf("%d", len(e.Changes)),
				status,
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device")
	auditListCmd.Flags().StringVar(&auditUser, "by", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditBatch, "batch", "", "Filter by batch ID")
	auditListCmd.Flags().StringVar(&auditKind, "kind", "", "Filter by operation kind (e.g. config-push)")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")

	auditCmd.AddCommand(auditListCmd)
}
