package main

import (
	"fmt"
	"time"

	"github.com/newthinker/switchboard/internal/app"
	"github.com/newthinker/switchboard/internal/render"
	"github.com/newthinker/switchboard/internal/usage/history"
	"github.com/spf13/cobra"
)

var (
	usageProvider string
	usageSince    time.Duration
	usageLimit    int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show stored usage counters",
	Long:  `Show the usage snapshot last flushed to storage, per provider.`,
	RunE:  runUsage,
}

var usageHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent attempts and totals from the history store",
	Long: `Show recent attempts and totals from the history store. The memory
driver only holds what the current process recorded, so this command needs
usage.history.driver: sqlite to see a server's history.`,
	RunE: runUsageHistory,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored usage snapshot",
	Long: `Delete the stored usage snapshot so counters start from zero. A running
server keeps its in-memory counters and writes them back on its next flush.`,
	RunE: runUsageReset,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageHistoryCmd)
	usageCmd.AddCommand(usageResetCmd)

	usageHistoryCmd.Flags().StringVar(&usageProvider, "provider", "", "only attempts on this provider")
	usageHistoryCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "how far back to look (0 for everything)")
	usageHistoryCmd.Flags().IntVarP(&usageLimit, "limit", "n", 20, "maximum records to list")
}

func runUsage(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app.App, out *render.Renderer) error {
		if !a.Tracker().Persistent() {
			return fmt.Errorf("usage storage is disabled")
		}
		return out.Snapshot(a.Tracker().Snapshot())
	})
}

func runUsageHistory(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app.App, out *render.Renderer) error {
		store := a.History()
		if store == nil {
			return fmt.Errorf("usage history is disabled")
		}
		if a.Config().Usage.History.Driver == "memory" {
			return fmt.Errorf("usage history uses the memory driver, which only lives inside a running server: " +
				"set usage.history.driver: sqlite or query GET /api/v1/usage/history")
		}

		var since time.Time
		if usageSince > 0 {
			since = time.Now().Add(-usageSince)
		}

		ctx := cmd.Context()
		records, err := store.Recent(ctx, history.Filter{Provider: usageProvider, Since: since, Limit: usageLimit})
		if err != nil {
			return err
		}
		totals, err := store.Totals(ctx, since)
		if err != nil {
			return err
		}
		return out.Usage(records, totals)
	})
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app.App, out *render.Renderer) error {
		if !a.Tracker().Persistent() {
			return fmt.Errorf("usage storage is disabled")
		}
		deleted, err := a.Tracker().Clear(cmd.Context())
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "No usage snapshot at %s\n", a.Tracker().Key())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted usage snapshot %s\n", a.Tracker().Key())
		return nil
	})
}
