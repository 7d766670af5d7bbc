// Package observe implements push-based live query subscriptions. A Registry
// is notified with the set of tables touched by each committed write; watchers
// subscribed to any of those tables receive a tick and re-run their query.
package observe

import (
	"context"
	"sync"

	"github.com/haulhq/depot/internal/debug"
)

// Registry fans out commit notifications to table watchers.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	tables map[string]struct{} // empty means every table
	ch     chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int]*subscription)}
}

// Watch subscribes to commits touching any of the given tables (all tables if
// none given). The returned channel carries an immediate tick so subscribers
// see the current state, then one tick per matching commit. Ticks are
// coalesced: a slow consumer sees at least one tick for any burst of commits.
// The subscription ends when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, tables ...string) <-chan struct{} {
	sub := &subscription{
		tables: make(map[string]struct{}, len(tables)),
		ch:     make(chan struct{}, 1),
	}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}

	// Immediate tick with the buffer empty, cannot block.
	sub.ch <- struct{}{}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		if s, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(s.ch)
		}
		r.mu.Unlock()
	}()

	return sub.ch
}

// Notify reports a committed write touching the given tables. Delivery is
// non-blocking; ticks to a full subscriber buffer coalesce.
func (r *Registry) Notify(tables ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if !sub.matches(tables) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the current subscription count (for monitoring/tests).
func (r *Registry) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (s *subscription) matches(tables []string) bool {
	if len(s.tables) == 0 {
		return true
	}
	for _, t := range tables {
		if _, ok := s.tables[t]; ok {
			return true
		}
	}
	return false
}

// Stream turns a tick channel into a lazy, restartable sequence of typed query
// results: fetch runs once per tick and each result is delivered in order. A
// fetch error skips that tick rather than ending the stream. The output
// channel closes when ctx is cancelled or the tick channel closes.
func Stream[T any](ctx context.Context, ticks <-chan struct{}, fetch func(context.Context) (T, error)) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				result, err := fetch(ctx)
				if err != nil {
					debug.Logf("observe: fetch failed: %v\n", err)
					continue
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
