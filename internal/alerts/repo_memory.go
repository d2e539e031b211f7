package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rules"
)

// MemoryRepo keeps alerts in process. Used by tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	// recorded holds every event id ever attached to an alert, including ids
	// trimmed from EventIDs.
	recorded map[string]map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{alerts: map[string]*Alert{}, recorded: map[string]map[string]struct{}{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.alerts[a.ID]; dup {
		return fmt.Errorf("alerts: alert %q already exists", a.ID)
	}
	c := clone(a)
	r.alerts[a.ID] = &c
	r.recorded[a.ID] = map[string]struct{}{}
	r.record(a.ID, a.EventIDs)
	return nil
}

// record adds ids to the alert's recorded set and returns the ones not seen before.
func (r *MemoryRepo) record(alertID string, ids []string) []string {
	set := r.recorded[alertID]
	var fresh []string
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, apperr.NotFound("alert", id)
	}
	return clone(*a), nil
}

func (r *MemoryRepo) FindOpen(ctx context.Context, rule rules.Name, key string, since time.Time) (Alert, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Alert
	for _, a := range r.alerts {
		if a.RuleName != rule || a.CorrelationKey != key || a.Acknowledged || a.CreatedAt.Before(since) {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return Alert{}, false, nil
	}
	return clone(*best), true, nil
}

func (r *MemoryRepo) FindByEvent(ctx context.Context, rule rules.Name, key, eventID string) (Alert, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Alert
	for _, a := range r.alerts {
		if a.RuleName != rule || a.CorrelationKey != key {
			continue
		}
		if _, ok := r.recorded[a.ID][eventID]; !ok {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return Alert{}, false, nil
	}
	return clone(*best), true, nil
}

func (r *MemoryRepo) MergeEvents(ctx context.Context, id string, ids []string, max int, at time.Time) (Alert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, 0, apperr.NotFound("alert", id)
	}
	fresh := r.record(id, ids)
	if len(fresh) > 0 {
		a.EventIDs, _ = mergeIDs(a.EventIDs, fresh, max)
		a.UpdatedAt = at
	}
	return clone(*a), len(fresh), nil
}

func (r *MemoryRepo) Acknowledge(ctx context.Context, id, by string, at time.Time) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, apperr.NotFound("alert", id)
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.UpdatedAt = at
	return clone(*a), nil
}

func (r *MemoryRepo) Assign(ctx context.Context, id, actor string, at time.Time) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, apperr.NotFound("alert", id)
	}
	a.AssignedTo = actor
	a.UpdatedAt = at
	return clone(*a), nil
}

func (r *MemoryRepo) Query(ctx context.Context, f Filter) ([]Alert, int, error) {
	r.mu.RLock()
	matched := make([]Alert, 0)
	for _, a := range r.alerts {
		if f.matches(*a) {
			matched = append(matched, clone(*a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	off := f.Offset()
	if off >= total {
		return []Alert{}, total, nil
	}
	end := total
	if f.PageSize > 0 && off+f.PageSize < end {
		end = off + f.PageSize
	}
	return matched[off:end], total, nil
}

func (r *MemoryRepo) CountOpenBySeverity(ctx context.Context) (map[rules.Severity]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[rules.Severity]int{}
	for _, a := range r.alerts {
		if !a.Acknowledged {
			out[a.Severity]++
		}
	}
	return out, nil
}

func clone(a Alert) Alert {
	ids := make([]string, len(a.EventIDs))
	copy(ids, a.EventIDs)
	actions := make([]rules.Action, len(a.SuggestedActions))
	copy(actions, a.SuggestedActions)
	a.EventIDs, a.SuggestedActions = ids, actions
	return a
}
