package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"activity-monitor/internal/apperr"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests and local runs.
// Events are also indexed by kind so window reads only scan one kind.
type MemoryRepo struct {
	mu     sync.RWMutex
	events []Event
	byID   map[string]int
	byKind map[Kind][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]int{}, byKind: map[Kind][]int{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[e.ID]; dup {
		return fmt.Errorf("activity: event %q already exists", e.ID)
	}
	r.events = append(r.events, e)
	idx := len(r.events) - 1
	r.byID[e.ID] = idx
	r.byKind[e.Kind] = append(r.byKind[e.Kind], idx)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Event{}, apperr.NotFound("event", id)
	}
	return r.events[idx], nil
}

func (r *MemoryRepo) Query(ctx context.Context, f Filter) ([]Event, int, error) {
	r.mu.RLock()
	matched := make([]Event, 0)
	for _, e := range r.events {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	off := f.Offset()
	if off >= total {
		return []Event{}, total, nil
	}
	end := total
	if f.PageSize > 0 && off+f.PageSize < end {
		end = off + f.PageSize
	}
	return matched[off:end], total, nil
}

func (r *MemoryRepo) CountInWindow(ctx context.Context, q WindowQuery) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, idx := range r.byKind[q.Kind] {
		if q.matches(r.events[idx]) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListInWindow(ctx context.Context, q WindowQuery, limit int) ([]Event, error) {
	r.mu.RLock()
	out := make([]Event, 0)
	for _, idx := range r.byKind[q.Kind] {
		if q.matches(r.events[idx]) {
			out = append(out, r.events[idx])
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of everything stored, in insertion order.
func (r *MemoryRepo) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func sortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}
