package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/haulhq/depot/internal/debug"
	"github.com/haulhq/depot/internal/types"
)

// Deliverer sends one queue entry to the remote backend. A nil return marks
// the entry delivered; any error schedules a retry.
type Deliverer interface {
	Deliver(ctx context.Context, entry *types.SyncEntry) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, entry *types.SyncEntry) error

func (f DeliverFunc) Deliver(ctx context.Context, entry *types.SyncEntry) error {
	return f(ctx, entry)
}

// DispatcherConfig tunes the background dispatch loop.
type DispatcherConfig struct {
	// Interval between dispatch passes. Defaults to 15s.
	Interval time.Duration
	// BatchSize is the dequeue limit per pass. Defaults to 25.
	BatchSize int
	// Logf receives progress lines; defaults to the debug logger.
	Logf func(format string, args ...interface{})
}

// Dispatcher drains the queue in the background: each pass sweeps expired
// entries, dequeues a batch and delivers entry by entry. Every entry's
// outcome is its own atomic step, so cancelling mid-batch loses nothing; the
// remainder is picked up on the next pass or the next process run.
type Dispatcher struct {
	queue     *Queue
	deliverer Deliverer
	interval  time.Duration
	batchSize int
	logf      func(format string, args ...interface{})
}

// NewDispatcher creates a dispatcher over the queue.
func NewDispatcher(queue *Queue, deliverer Deliverer, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		queue:     queue,
		deliverer: deliverer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logf:      cfg.Logf,
	}
	if d.interval <= 0 {
		d.interval = 15 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 25
	}
	if d.logf == nil {
		d.logf = debug.Logf
	}
	return d
}

// Run loops until ctx is cancelled, then returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// First pass immediately so queued work does not wait a full interval.
	for {
		delivered, failed, err := d.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logf("dispatch pass failed: %v", err)
		}
		if delivered > 0 || failed > 0 {
			d.logf("dispatch pass: %d delivered, %d failed", delivered, failed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single dispatch pass: sweep, dequeue, deliver, report.
// Returns how many entries were delivered and how many failed this pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (delivered, failed int, err error) {
	if swept, err := d.queue.SweepExpired(ctx); err != nil {
		return 0, 0, err
	} else if swept > 0 {
		d.logf("swept %d expired entries", swept)
	}

	batch, err := d.queue.DequeueBatch(ctx, d.batchSize)
	if err != nil {
		return 0, 0, err
	}

	// Outcomes are written on a detached context: once an attempt finished,
	// its terminal transition must land even if the loop is being cancelled.
	outcomeCtx := context.WithoutCancel(ctx)

	for _, entry := range batch {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}

		if derr := d.deliverer.Deliver(ctx, entry); derr != nil {
			failed++
			debug.Logf("syncqueue: delivery of %s failed: %v\n", entry.Key(), derr)
			if rerr := d.queue.ReportOutcome(outcomeCtx, entry.ID, false); rerr != nil && !errors.Is(rerr, ErrEntryNotFound) {
				return delivered, failed, rerr
			}
			continue
		}

		delivered++
		if rerr := d.queue.ReportOutcome(outcomeCtx, entry.ID, true); rerr != nil && !errors.Is(rerr, ErrEntryNotFound) {
			return delivered, failed, rerr
		}
	}
	return delivered, failed, nil
}
