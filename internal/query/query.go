package query

import (
	"context"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/alerts"
	"activity-monitor/internal/rules"
)

// Page is one page of a filtered, newest-first read.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"per_page"`
	Pages    int `json:"pages"`
}

func newPage[T any](items []T, total, page, size int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{Items: items, Total: total, Page: page, PageSize: size, Pages: pages}
}

// Summary is the dashboard view of open alerts.
type Summary struct {
	Open       int                    `json:"open"`
	BySeverity map[rules.Severity]int `json:"by_severity"`
}

// Service is the read facade over the event store and the alert manager.
// It holds no state of its own.
type Service struct {
	events *activity.Service
	alerts *alerts.Manager
}

func NewService(events *activity.Service, alertManager *alerts.Manager) *Service {
	return &Service{events: events, alerts: alertManager}
}

func (s *Service) Events(ctx context.Context, f activity.Filter) (Page[activity.Event], error) {
	f = activity.NormalizeFilter(f)
	items, total, err := s.events.Query(ctx, f)
	if err != nil {
		return Page[activity.Event]{}, err
	}
	return newPage(items, total, f.Page, f.PageSize), nil
}

func (s *Service) Event(ctx context.Context, id string) (activity.Event, error) {
	return s.events.Get(ctx, id)
}

func (s *Service) Alerts(ctx context.Context, f alerts.Filter) (Page[alerts.Alert], error) {
	f = alerts.NormalizeFilter(f)
	items, total, err := s.alerts.Query(ctx, f)
	if err != nil {
		return Page[alerts.Alert]{}, err
	}
	return newPage(items, total, f.Page, f.PageSize), nil
}

func (s *Service) Alert(ctx context.Context, id string) (alerts.Alert, error) {
	return s.alerts.Get(ctx, id)
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	counts, err := s.alerts.OpenBySeverity(ctx)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{BySeverity: counts}
	for _, n := range counts {
		out.Open += n
	}
	return out, nil
}
