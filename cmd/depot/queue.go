package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/config"
	"github.com/haulhq/depot/internal/syncqueue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active queue entries in dispatch order",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		entries, err := queue.List(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(entries)
			return
		}

		if len(entries) == 0 {
			fmt.Println("Queue is empty")
			return
		}
		for _, e := range entries {
			retry := ""
			if e.RetryCount > 0 {
				retry = fmt.Sprintf(" (retry %d, next %s)", e.RetryCount, e.NextRetryAt.Format(time.RFC3339))
			}
			fmt.Printf("p%d  %-40s %s%s\n", e.Priority, e.Key(), e.CreatedAt.Format(time.RFC3339), retry)
		}
	},
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <entity-type> <entity-id> <action>",
	Short: "Enqueue an outbound change (payload read from stdin)",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		priority, _ := cmd.Flags().GetInt("priority")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		compress, _ := cmd.Flags().GetBool("compress")
		if !cmd.Flags().Changed("ttl") {
			ttl = config.GetDuration("sync.ttl")
		}

		payload, err := readPayload()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading payload: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		cfg := syncqueue.Config{}
		if compress || config.GetBool("sync.compress") {
			cfg.Codec = syncqueue.Gzip()
		}
		queue := syncqueue.New(store, cfg)

		id, err := queue.Enqueue(ctx, args[0], args[1], args[2], payload, priority, ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{"id": id})
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Enqueued %s/%s/%s as %s\n", green("✓"), args[0], args[1], args[2], id)
	},
}

var queueSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive and remove expired entries",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		swept, err := queue.SweepExpired(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]int{"swept": swept})
			return
		}
		fmt.Printf("Swept %d expired entries\n", swept)
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by state and outcome",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		stats, err := queue.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(stats)
			return
		}
		fmt.Printf("Active:   %d (%d due now)\n", stats.Active, stats.Due)
		fmt.Printf("Archived: %d delivered, %d expired\n", stats.ArchivedSuccess, stats.ArchivedExpired)
	},
}

var queueArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "List archived entries, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		queue := syncqueue.New(store, syncqueue.Config{})
		entries, err := queue.Archived(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(entries)
			return
		}

		if len(entries) == 0 {
			fmt.Println("Archive is empty")
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		for _, a := range entries {
			mark := green("✓")
			if !a.Success {
				mark = red("✗")
			}
			fmt.Printf("%s %-40s %-8s %s\n", mark, a.EntityType+"/"+a.EntityID+"/"+a.Action, a.Reason, a.ArchivedAt.Format(time.RFC3339))
		}
	},
}

func readPayload() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		// No piped input; an empty payload is legal.
		return nil, nil
	}
	return io.ReadAll(os.Stdin)
}

func init() {
	queueListCmd.Flags().Int("limit", 50, "Maximum entries to show")
	queueArchiveCmd.Flags().Int("limit", 50, "Maximum entries to show")
	queueEnqueueCmd.Flags().Int("priority", 0, "Entry priority (higher dispatches first)")
	queueEnqueueCmd.Flags().Duration("ttl", 0, "Time to live, 0 = never expires (defaults to sync.ttl)")
	queueEnqueueCmd.Flags().Bool("compress", false, "Compress the payload")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueEnqueueCmd)
	queueCmd.AddCommand(queueSweepCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueArchiveCmd)
	rootCmd.AddCommand(queueCmd)
}
