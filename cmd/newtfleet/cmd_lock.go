package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtfleet/pkg/cli"
	"github.com/newtron-network/newtfleet/pkg/coord"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and release Redis device locks",
	Long: `Inspect and release the device locks --lock takes in Redis.

Examples:
  newtfleet --redis 10.0.0.9:6379 lock status 10.0.0.1 10.0.0.2
  newtfleet --redis 10.0.0.9:6379 lock release 10.0.0.1`,
}

func withLocker(fn func(ctx context.Context, l *coord.Locker) error) error {
	if app.redisAddr == "" {
		return fmt.Errorf("redis address required: use --redis or settings redis_addr")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := coord.Dial(ctx, app.redisAddr, 0)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, coord.NewLocker(client))
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <device>...",
	Short: "Show who holds each device lock",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocker(func(ctx context.Context, l *coord.Locker) error {
			t := cli.NewTableTo(stdout, "DEVICE", "HOLDER", "SINCE")
			for _, device := range args {
				holder, since, err := l.Holder(ctx, device)
				if err != nil {
					return err
				}
				if holder == "" {
					t.Row(device, cli.Dim("(unlocked)"), "")
					continue
				}
				t.Row(device, holder, since.Local().Format("2006-01-02 15:04:05"))
			}
			t.Flush()
			return nil
		})
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <device>...",
	Short: "Break device locks left by an interrupted run",
	Long: `Release device locks whoever holds them. Use this only after checking
that the holder is no longer running; locks also expire on their own.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocker(func(ctx context.Context, l *coord.Locker) error {
			for _, device := range args {
				holder, _, err := l.Holder(ctx, device)
				if err != nil {
					return err
				}
				if holder == "" {
					fmt.Fprintf(stdout, "%s not locked\n", device)
					continue
				}
				if err := l.Unlock(ctx, device, holder); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s released (held by %s)\n", device, holder)
			}
			return nil
		})
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd)
}
