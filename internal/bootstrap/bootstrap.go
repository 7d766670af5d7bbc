// Package bootstrap runs the store initialization pipeline: Setup (schema),
// Import (baseline seed plus external records), Verify (integrity thresholds)
// and BackgroundStart (best-effort auxiliary work). Any number of callers may
// request initialization concurrently; the underlying work runs exactly once
// per attempt and every caller observes the same outcome.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/haulhq/depot/internal/debug"
	"github.com/haulhq/depot/internal/seed"
	"github.com/haulhq/depot/internal/storage"
)

// Phase is the coarse initialization state visible to the presentation layer.
type Phase string

const (
	PhaseUnknown  Phase = "unknown"
	PhaseEmpty    Phase = "empty"
	PhasePartial  Phase = "partial"
	PhaseSyncing  Phase = "syncing"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// State is the readiness signal: the UI gates on Phase == PhaseComplete and
// shows Progress and CurrentStep until then. Progress only moves forward
// within an attempt.
type State struct {
	Phase       Phase   `json:"phase"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Detail      string  `json:"detail,omitempty"`
}

// IntegrityError reports a Verify failure: a table below its minimum row
// count or records referencing missing rows. It blocks initialization and is
// not retried automatically; the seed data must be corrected first.
type IntegrityError struct {
	Table  string
	Got    int
	Want   int
	Detail string
}

func (e *IntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("integrity check failed for %s: %s", e.Table, e.Detail)
	}
	return fmt.Sprintf("integrity check failed for %s: %d rows, need at least %d", e.Table, e.Got, e.Want)
}

// Config tunes a Coordinator. Zero values fall back to defaults.
type Config struct {
	// Minimums overrides the per-table minimum row counts checked by Verify.
	Minimums map[string]int

	// Background tasks run after readiness is published. Best effort: errors
	// are logged, never surfaced, and readiness never waits for them.
	Background []func(ctx context.Context) error
}

type attempt struct {
	done chan struct{}
	err  error
}

// Coordinator is the single-flight initialization entry point. Construct one
// per store handle at process start and share it by reference.
type Coordinator struct {
	store  storage.Store
	seeder *seed.Seeder
	cfg    Config

	mu        sync.Mutex
	inflight  *attempt
	ready     bool
	state     State
	observers map[int]chan State
	nextObs   int
}

// New creates a Coordinator over the store and seeder.
func New(store storage.Store, seeder *seed.Seeder, cfg Config) *Coordinator {
	if cfg.Minimums == nil {
		cfg.Minimums = map[string]int{
			"task_categories": len(seed.BaselineCategories),
			"buildings":       len(seed.BaselineBuildings),
		}
	}
	return &Coordinator{
		store:     store,
		seeder:    seeder,
		cfg:       cfg,
		state:     State{Phase: PhaseUnknown},
		observers: make(map[int]chan State),
	}
}

// EnsureReady initializes the store if needed and blocks until the attempt it
// joined finishes. Concurrent callers share one execution ("start or join" is
// atomic); all of them receive that attempt's outcome. A failed attempt
// clears the in-flight handle so the next call starts fresh. ctx only bounds
// the caller's wait: phases run to completion on their own goroutine and a
// departing waiter does not cancel the attempt for the others.
func (c *Coordinator) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	a := c.inflight
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		c.inflight = a
		go c.run(a)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a previous attempt completed successfully.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// State returns the current readiness snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe delivers the current state immediately and every later state
// change until ctx is cancelled. Slow consumers miss intermediate snapshots,
// never the latest one.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if s, ok := c.observers[id]; ok {
			delete(c.observers, id)
			close(s)
		}
		c.mu.Unlock()
	}()

	return ch
}

func (c *Coordinator) run(a *attempt) {
	// A fresh attempt starts its progress from zero; the monotonic clamp in
	// setStateLocked only applies within one attempt.
	c.mu.Lock()
	c.state = State{Phase: PhaseUnknown}
	c.setStateLocked(c.state)
	c.mu.Unlock()

	err := c.bootstrap()

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		c.ready = true
	}
	c.mu.Unlock()

	a.err = err
	close(a.done)
}

// bootstrap executes the phases in order. It deliberately runs on a
// background context: there is no mid-phase cancellation, an attempt either
// completes or errors.
func (c *Coordinator) bootstrap() error {
	ctx := context.Background()

	// Setup. Schema creation and additive migrations run on every attempt,
	// so a store created by an older release picks up new columns and indexes
	// before anything reads or writes it.
	c.setState(State{Phase: PhaseEmpty, Progress: 0.1, CurrentStep: "creating schema"})
	if err := c.store.EnsureSchema(ctx); err != nil {
		return c.fail("creating schema", err)
	}

	// Fast path: a previously initialized store completes without re-seeding
	// or re-importing.
	present, err := c.seeder.BaselinePresent(ctx)
	if err != nil {
		return c.fail("checking baseline data", err)
	}
	if present {
		c.setState(State{Phase: PhaseComplete, Progress: 1, CurrentStep: "ready"})
		c.startBackground(ctx)
		return nil
	}

	// Import
	c.setState(State{Phase: PhasePartial, Progress: 0.4, CurrentStep: "seeding baseline data"})
	if err := c.seeder.EnsureBaseline(ctx); err != nil {
		return c.fail("seeding baseline data", err)
	}
	c.setState(State{Phase: PhasePartial, Progress: 0.6, CurrentStep: "importing records"})
	if _, err := c.seeder.ImportRecords(ctx); err != nil {
		return c.fail("importing records", err)
	}

	// Verify
	c.setState(State{Phase: PhaseSyncing, Progress: 0.85, CurrentStep: "verifying integrity"})
	if err := c.verify(ctx); err != nil {
		return c.fail("verifying integrity", err)
	}

	c.setState(State{Phase: PhaseComplete, Progress: 1, CurrentStep: "ready"})

	// BackgroundStart: never blocks readiness.
	c.startBackground(ctx)
	return nil
}

// verify checks per-table minimum row counts and referential consistency.
func (c *Coordinator) verify(ctx context.Context) error {
	for table, want := range c.cfg.Minimums {
		var got int
		// Table names come from the static minimums map, not user input.
		if err := c.store.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&got); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		if got < want {
			return &IntegrityError{Table: table, Got: got, Want: want}
		}
	}

	var orphans int
	err := c.store.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_orders w
		WHERE NOT EXISTS (SELECT 1 FROM buildings b WHERE b.id = w.building_id)
	`).Scan(&orphans)
	if err != nil {
		return fmt.Errorf("failed to check work order references: %w", err)
	}
	if orphans > 0 {
		return &IntegrityError{
			Table:  "work_orders",
			Got:    orphans,
			Detail: fmt.Sprintf("%d work orders reference missing buildings", orphans),
		}
	}
	return nil
}

func (c *Coordinator) startBackground(ctx context.Context) {
	for _, task := range c.cfg.Background {
		task := task
		go func() {
			if err := task(ctx); err != nil {
				debug.Logf("bootstrap: background task failed: %v\n", err)
			}
		}()
	}
}

func (c *Coordinator) fail(step string, err error) error {
	c.mu.Lock()
	st := State{Phase: PhaseError, Progress: c.state.Progress, CurrentStep: step, Detail: err.Error()}
	c.setStateLocked(st)
	c.mu.Unlock()
	return err
}

func (c *Coordinator) setState(st State) {
	c.mu.Lock()
	c.setStateLocked(st)
	c.mu.Unlock()
}

// setStateLocked publishes a new state to all observers. Progress never moves
// backwards within an attempt; a stale update keeps the higher value.
func (c *Coordinator) setStateLocked(st State) {
	if st.Progress < c.state.Progress && st.Phase != PhaseError {
		st.Progress = c.state.Progress
	}
	c.state = st
	for _, ch := range c.observers {
		select {
		case ch <- st:
		default:
			// Replace the stale buffered snapshot with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
