package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/observe"
	"github.com/haulhq/depot/internal/syncqueue"
	"github.com/haulhq/depot/internal/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live sync queue stats as the queue changes",
	Long: `Subscribe to queue table commits and print a fresh stats line after every
change. Prints the current stats immediately, then once per commit burst.
Stop with Ctrl-C.

Examples:
  depot watch
  depot watch --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		ticks := store.Registry().Watch(ctx, "sync_queue", "sync_archive")
		stats := observe.Stream(ctx, ticks, func(ctx context.Context) (*types.QueueStats, error) {
			return queue.Stats(ctx)
		})

		for s := range stats {
			if jsonOutput {
				outputJSON(s)
				continue
			}
			fmt.Printf("[%s] active=%d due=%d delivered=%d expired=%d\n",
				time.Now().Format("15:04:05"), s.Active, s.Due, s.ArchivedSuccess, s.ArchivedExpired)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
