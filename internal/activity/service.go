package activity

import (
	"context"
	"errors"
	"strings"

	"activity-monitor/internal/apperr"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Repository is the persistence contract for events.
//
// It MUST be append-only.
// There are no Update or Delete methods.
type Repository interface {
	Insert(ctx context.Context, e Event) error
	Get(ctx context.Context, id string) (Event, error)
	// Query returns one page ordered newest-first plus the total match count.
	Query(ctx context.Context, f Filter) ([]Event, int, error)
	CountInWindow(ctx context.Context, q WindowQuery) (int, error)
	// ListInWindow returns at most limit matching events, newest-first.
	ListInWindow(ctx context.Context, q WindowQuery, limit int) ([]Event, error)
}

// Service is the event store used by ingestion and by the query layer.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Append validates, assigns an id when absent and persists e.
// Invalid events fail with an apperr.ValidationError and nothing is written.
func (s *Service) Append(ctx context.Context, e Event) (Event, error) {
	if s.repo == nil {
		return Event{}, errors.New("activity: repository not configured")
	}
	e, err := Normalize(e)
	if err != nil {
		return Event{}, err
	}
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	if strings.TrimSpace(id) == "" {
		return Event{}, apperr.Invalid("id", "is required")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Query(ctx context.Context, f Filter) ([]Event, int, error) {
	return s.repo.Query(ctx, NormalizeFilter(f))
}

func (s *Service) CountInWindow(ctx context.Context, q WindowQuery) (int, error) {
	if !q.Kind.Valid() {
		return 0, apperr.Invalid("kind", "is not a known event kind")
	}
	return s.repo.CountInWindow(ctx, q)
}

func (s *Service) ListInWindow(ctx context.Context, q WindowQuery, limit int) ([]Event, error) {
	if !q.Kind.Valid() {
		return nil, apperr.Invalid("kind", "is not a known event kind")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return s.repo.ListInWindow(ctx, q, limit)
}

// Normalize checks required fields and the closed enumerations and returns the
// event with its timestamp in UTC and severity defaulted to info.
func Normalize(e Event) (Event, error) {
	if e.Timestamp.IsZero() {
		return Event{}, apperr.Invalid("timestamp", "is required")
	}
	if e.Kind == "" {
		return Event{}, apperr.Invalid("kind", "is required")
	}
	if !e.Kind.Valid() {
		return Event{}, apperr.Invalid("kind", "is not a known event kind")
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if !e.Severity.Valid() {
		return Event{}, apperr.Invalid("severity", "must be one of info, warning, critical")
	}
	if strings.TrimSpace(e.Summary) == "" {
		return Event{}, apperr.Invalid("summary", "is required")
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Actor = strings.TrimSpace(e.Actor)
	e.Origin = strings.TrimSpace(e.Origin)
	return e, nil
}

// NormalizeFilter applies paging defaults.
func NormalizeFilter(f Filter) Filter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// NewEventID returns "evt_" followed by a ULID: time-ordered, collision resistant.
func NewEventID() string {
	return "evt_" + ulid.Make().String()
}
