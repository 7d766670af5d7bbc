package observe

import (
	"context"
	"testing"
	"time"
)

func drainTick(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func expectNoTick(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchImmediateTick(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx, "work_orders")
	drainTick(t, ch)
	expectNoTick(t, ch)
}

func TestNotifyMatchingTable(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx, "work_orders")
	drainTick(t, ch) // initial

	reg.Notify("work_orders")
	drainTick(t, ch)

	reg.Notify("buildings")
	expectNoTick(t, ch)
}

func TestWatchAllTables(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx)
	drainTick(t, ch)

	reg.Notify("anything")
	drainTick(t, ch)
}

func TestNotifyCoalesces(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx, "sync_queue")
	drainTick(t, ch)

	// Burst of commits while the consumer is idle coalesces to one tick.
	for i := 0; i < 10; i++ {
		reg.Notify("sync_queue")
	}
	drainTick(t, ch)
	expectNoTick(t, ch)
}

func TestCancelRemovesSubscription(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "work_orders")
	drainTick(t, ch)

	if got := reg.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1", got)
	}

	cancel()

	// Channel closes once the registry drops the subscription.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if got := reg.Subscribers(); got != 0 {
					t.Fatalf("Subscribers() after cancel = %d, want 0", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}

func TestMultipleSubscribers(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := reg.Watch(ctx, "work_orders")
	b := reg.Watch(ctx, "work_orders")
	drainTick(t, a)
	drainTick(t, b)

	reg.Notify("work_orders")
	drainTick(t, a)
	drainTick(t, b)
}

func TestStream(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0
	ticks := reg.Watch(ctx, "work_orders")
	results := Stream(ctx, ticks, func(ctx context.Context) (int, error) {
		count++
		return count, nil
	})

	// Initial tick yields the first result.
	select {
	case got := <-results:
		if got != 1 {
			t.Fatalf("first result = %d, want 1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first result")
	}

	reg.Notify("work_orders")
	select {
	case got := <-results:
		if got != 2 {
			t.Fatalf("second result = %d, want 2", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second result")
	}

	cancel()
	select {
	case _, ok := <-results:
		if ok {
			// A buffered result may still arrive; the channel must close after.
			<-results
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream never closed after cancel")
	}
}
