package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/locks"
	"activity-monitor/internal/rules"

	"github.com/google/uuid"
)

// Manager turns rule firings into alerts and owns the alert lifecycle.
//
// Correlation contract:
//   - one open (unacknowledged) alert per (rule, correlation key) per cooldown;
//     later firings inside the cooldown merge their event ids into it
//   - a firing whose trigger event is already recorded is a replay and changes nothing
//   - the check-then-create step is serialized per (rule, key) by the Locker
type Manager struct {
	repo  Repository
	locks locks.Locker
	log   *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewManager(repo Repository, locker locks.Locker, log *slog.Logger) *Manager {
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{repo: repo, locks: locker, log: log, clock: time.Now}
}

func lockKey(rule rules.Name, key string) string {
	return "alerts:" + string(rule) + ":" + key
}

// HandleFiring creates, merges or suppresses an alert for f.
func (m *Manager) HandleFiring(ctx context.Context, f rules.Firing) (Result, error) {
	if len(f.Events) == 0 {
		return Result{}, apperr.Invalid("events", "a firing needs at least one contributing event")
	}
	if f.CorrelationKey == "" {
		return Result{}, apperr.Invalid("correlation_key", "is required")
	}

	unlock, err := m.locks.Lock(ctx, lockKey(f.Rule.Name, f.CorrelationKey))
	if err != nil {
		return Result{}, fmt.Errorf("lock %s/%s: %w", f.Rule.Name, f.CorrelationKey, err)
	}
	defer unlock()

	now := m.clock().UTC()
	ids := f.EventIDs()

	if f.Trigger.ID != "" {
		prior, seen, err := m.repo.FindByEvent(ctx, f.Rule.Name, f.CorrelationKey, f.Trigger.ID)
		if err != nil {
			return Result{}, err
		}
		if seen {
			return Result{Alert: prior, Outcome: OutcomeSuppressed}, nil
		}
	}

	if f.Rule.Cooldown > 0 {
		open, ok, err := m.repo.FindOpen(ctx, f.Rule.Name, f.CorrelationKey, now.Add(-f.Rule.Cooldown))
		if err != nil {
			return Result{}, err
		}
		if ok {
			merged, added, err := m.repo.MergeEvents(ctx, open.ID, ids, MaxEventIDs, now)
			if err != nil {
				return Result{}, err
			}
			if added == 0 {
				return Result{Alert: merged, Outcome: OutcomeSuppressed}, nil
			}
			m.log.Info("alert merged",
				"alert_id", merged.ID,
				"rule", f.Rule.Name,
				"correlation_key", f.CorrelationKey,
				"added_events", added,
			)
			return Result{Alert: merged, Outcome: OutcomeMerged}, nil
		}
	}

	title, desc := render(f)
	a := Alert{
		ID:               uuid.NewString(),
		RuleName:         f.Rule.Name,
		CorrelationKey:   f.CorrelationKey,
		EventIDs:         tail(ids, MaxEventIDs),
		Title:            title,
		Description:      desc,
		Severity:         f.Rule.Severity,
		SuggestedActions: append([]rules.Action{}, f.Rule.Actions...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.repo.Insert(ctx, a); err != nil {
		return Result{}, err
	}
	m.log.Info("alert created",
		"alert_id", a.ID,
		"rule", a.RuleName,
		"severity", a.Severity,
		"correlation_key", a.CorrelationKey,
		"events", len(a.EventIDs),
	)
	return Result{Alert: a, Outcome: OutcomeCreated}, nil
}

// Acknowledge marks the alert handled. Repeating it succeeds; the last caller
// is recorded as acknowledged_by.
func (m *Manager) Acknowledge(ctx context.Context, id, by string) (Alert, error) {
	if strings.TrimSpace(id) == "" {
		return Alert{}, apperr.Invalid("id", "is required")
	}
	if strings.TrimSpace(by) == "" {
		return Alert{}, apperr.Invalid("acknowledged_by", "is required")
	}
	return m.repo.Acknowledge(ctx, id, strings.TrimSpace(by), m.clock().UTC())
}

func (m *Manager) Assign(ctx context.Context, id, actor string) (Alert, error) {
	if strings.TrimSpace(id) == "" {
		return Alert{}, apperr.Invalid("id", "is required")
	}
	return m.repo.Assign(ctx, id, strings.TrimSpace(actor), m.clock().UTC())
}

func (m *Manager) Get(ctx context.Context, id string) (Alert, error) {
	if strings.TrimSpace(id) == "" {
		return Alert{}, apperr.Invalid("id", "is required")
	}
	return m.repo.Get(ctx, id)
}

// CreateIncident opens a manual alert. Event ids are taken as given; callers
// check they exist.
func (m *Manager) CreateIncident(ctx context.Context, req IncidentRequest) (Alert, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return Alert{}, apperr.Invalid("title", "is required")
	}
	if req.Severity == "" {
		req.Severity = rules.SeverityWarning
	}
	if !req.Severity.Valid() {
		return Alert{}, apperr.Invalid("severity", "must be one of info, warning, high, critical")
	}
	if len(req.EventIDs) == 0 {
		return Alert{}, apperr.Invalid("event_ids", "at least one event is required")
	}
	for _, a := range req.SuggestedActions {
		if !a.Valid() {
			return Alert{}, apperr.Invalid("suggested_actions", fmt.Sprintf("unknown action %q", a))
		}
	}

	now := m.clock().UTC()
	ids, _ := mergeIDs(nil, req.EventIDs, MaxEventIDs)
	a := Alert{
		ID:               uuid.NewString(),
		RuleName:         ManualRule,
		EventIDs:         ids,
		Title:            req.Title,
		Description:      strings.TrimSpace(req.Description),
		Severity:         req.Severity,
		AssignedTo:       strings.TrimSpace(req.AssignedTo),
		SuggestedActions: append([]rules.Action{}, req.SuggestedActions...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a.CorrelationKey = a.ID
	if err := m.repo.Insert(ctx, a); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// Query returns one page of alerts newest-first, and the total match count.
func (m *Manager) Query(ctx context.Context, f Filter) ([]Alert, int, error) {
	for _, s := range f.Severities {
		if !s.Valid() {
			return nil, 0, apperr.Invalid("severity", fmt.Sprintf("unknown severity %q", s))
		}
	}
	return m.repo.Query(ctx, NormalizeFilter(f))
}

// OpenBySeverity counts unacknowledged alerts for every severity, zeros included.
func (m *Manager) OpenBySeverity(ctx context.Context) (map[rules.Severity]int, error) {
	counts, err := m.repo.CountOpenBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[rules.Severity]int, len(rules.Severities))
	for _, s := range rules.Severities {
		out[s] = counts[s]
	}
	return out, nil
}

func tail(ids []string, max int) []string {
	if len(ids) <= max {
		return ids
	}
	return ids[len(ids)-max:]
}
