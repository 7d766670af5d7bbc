package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/config"
	"github.com/haulhq/depot/internal/lockfile"
	"github.com/haulhq/depot/internal/syncqueue"
	"github.com/haulhq/depot/internal/types"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the sync dispatcher in the foreground",
	Long: `Run the background dispatcher that drains the sync queue: each pass sweeps
expired entries, then delivers due entries to the configured endpoint in
priority order. Failed deliveries are retried with exponential backoff.

Only one dispatcher may run against a store at a time; a lock file next to
the database enforces this.

Examples:
  depot dispatch --endpoint https://api.example.com/sync
  depot dispatch --interval 30s --batch-size 10
  depot dispatch --once`,
	Run: func(cmd *cobra.Command, args []string) {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		interval, _ := cmd.Flags().GetDuration("interval")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		once, _ := cmd.Flags().GetBool("once")

		if endpoint == "" {
			endpoint = config.GetString("sync.endpoint")
		}
		if endpoint == "" {
			fmt.Fprintln(os.Stderr, "Error: no sync endpoint configured (--endpoint or DEPOT_SYNC_ENDPOINT)")
			os.Exit(1)
		}
		if !cmd.Flags().Changed("interval") {
			interval = config.GetDuration("sync.interval")
		}
		if !cmd.Flags().Changed("batch-size") {
			batchSize = config.GetInt("sync.batch-size")
		}

		ctx := context.Background()
		store, _, err := ensureReady(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		lock, err := lockfile.Acquire(dbPath + ".dispatch.lock")
		if err != nil {
			if errors.Is(err, lockfile.ErrLocked) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error acquiring dispatcher lock: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = lock.Release() }()

		logPath := filepath.Join(filepath.Dir(dbPath), "dispatch.log")
		logF, logger := setupDispatchLogger(logPath)
		defer func() { _ = logF.Close() }()

		cfg := syncqueue.Config{
			InitialDelay: config.GetDuration("sync.initial-delay"),
			MaxDelay:     config.GetDuration("sync.max-delay"),
		}
		if config.GetBool("sync.compress") {
			cfg.Codec = syncqueue.Gzip()
		}
		queue := syncqueue.New(store, cfg)

		deliverer := newHTTPDeliverer(endpoint)
		dispatcher := syncqueue.NewDispatcher(queue, deliverer, syncqueue.DispatcherConfig{
			Interval:  interval,
			BatchSize: batchSize,
			Logf:      logger.log,
		})

		if once {
			delivered, failed, err := dispatcher.RunOnce(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Dispatch pass: %d delivered, %d failed\n", delivered, failed)
			return
		}

		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.log("dispatcher started (pid %d, endpoint %s, interval %s)", os.Getpid(), endpoint, interval)
		fmt.Printf("Dispatcher running against %s (log: %s)\n", store.Path(), logPath)

		err = dispatcher.Run(runCtx)
		logger.log("dispatcher stopped: %v", err)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// httpDeliverer posts queue entries to a remote sync endpoint. The entity
// coordinates travel as headers so the body stays the raw payload.
type httpDeliverer struct {
	endpoint string
	client   *http.Client
}

func newHTTPDeliverer(endpoint string) *httpDeliverer {
	return &httpDeliverer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *httpDeliverer) Deliver(ctx context.Context, entry *types.SyncEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(entry.Payload))
	if err != nil {
		return fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Depot-Entity-Type", entry.EntityType)
	req.Header.Set("X-Depot-Entity-ID", entry.EntityID)
	req.Header.Set("X-Depot-Action", entry.Action)
	req.Header.Set("X-Depot-Retry-Count", strconv.Itoa(entry.RetryCount))

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach sync endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync endpoint returned %s", resp.Status)
	}
	return nil
}

func init() {
	dispatchCmd.Flags().String("endpoint", "", "Sync endpoint URL")
	dispatchCmd.Flags().Duration("interval", 15*time.Second, "Interval between dispatch passes")
	dispatchCmd.Flags().Int("batch-size", 25, "Entries dequeued per pass")
	dispatchCmd.Flags().Bool("once", false, "Run a single dispatch pass and exit")
	rootCmd.AddCommand(dispatchCmd)
}
