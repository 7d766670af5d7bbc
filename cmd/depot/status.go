package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/bootstrap"
	"github.com/haulhq/depot/internal/syncqueue"
	"github.com/haulhq/depot/internal/types"
)

// StatusOutput is the complete status snapshot
type StatusOutput struct {
	State bootstrap.State   `json:"state"`
	Tier  string            `json:"tier"`
	Path  string            `json:"path,omitempty"`
	Queue *types.QueueStats `json:"queue"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store readiness and sync queue overview",
	Long: `Show a quick snapshot of the local store: initialization state, which
recovery tier the store opened at, and sync queue counts.

Examples:
  depot status
  depot status --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, coord, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		stats, err := queue.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue stats: %v\n", err)
			os.Exit(1)
		}

		out := StatusOutput{
			State: coord.State(),
			Tier:  store.Tier().String(),
			Path:  store.Path(),
			Queue: stats,
		}

		if jsonOutput {
			outputJSON(out)
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		if out.State.Phase == bootstrap.PhaseComplete {
			fmt.Printf("%s Store ready (tier: %s)\n", green("✓"), out.Tier)
		} else {
			fmt.Printf("%s Store %s: %s (%.0f%%)\n", yellow("…"), out.State.Phase, out.State.CurrentStep, out.State.Progress*100)
		}
		if out.Tier != "primary" {
			fmt.Printf("%s Opened at recovery tier %q; run 'depot doctor' for details\n", yellow("⚠"), out.Tier)
		}

		fmt.Printf("\nSync queue:\n")
		fmt.Printf("  Active:   %d (%d due now)\n", stats.Active, stats.Due)
		fmt.Printf("  Archived: %d delivered, %d expired\n", stats.ArchivedSuccess, stats.ArchivedExpired)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
