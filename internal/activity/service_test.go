package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"activity-monitor/internal/apperr"
)

var t0 = time.Unix(1700000000, 0).UTC()

func TestAppend_ValidatesRequiredFields(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	cases := []struct {
		name  string
		event Event
		field string
	}{
		{"missing timestamp", Event{Kind: KindLogin, Summary: "x"}, "timestamp"},
		{"missing kind", Event{Timestamp: t0, Summary: "x"}, "kind"},
		{"unknown kind", Event{Timestamp: t0, Kind: "teleport", Summary: "x"}, "kind"},
		{"missing summary", Event{Timestamp: t0, Kind: KindLogin, Summary: "  "}, "summary"},
		{"unknown severity", Event{Timestamp: t0, Kind: KindLogin, Summary: "x", Severity: "fatal"}, "severity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(ctx, tc.event)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected field %q, got %+v", tc.field, ve)
			}
		})
	}
}

func TestAppend_RejectedEventIsNotPersisted(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	_, _ = svc.Append(context.Background(), Event{Timestamp: t0, Kind: "bogus", Summary: "x"})
	if n := len(repo.Events()); n != 0 {
		t.Fatalf("expected nothing persisted, got %d events", n)
	}
}

func TestAppend_AssignsIDAndDefaults(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	local := time.FixedZone("UTC+3", 3*3600)
	e, err := svc.Append(context.Background(), Event{
		Timestamp: t0.In(local),
		Kind:      KindLogin,
		Summary:   "User a@b.c logged in",
		Actor:     " a@b.c ",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !strings.HasPrefix(e.ID, "evt_") || len(e.ID) != len("evt_")+26 {
		t.Fatalf("unexpected id %q", e.ID)
	}
	if e.Severity != SeverityInfo {
		t.Fatalf("expected default severity info, got %q", e.Severity)
	}
	if e.Timestamp.Location() != time.UTC || !e.Timestamp.Equal(t0) {
		t.Fatalf("expected UTC timestamp, got %v", e.Timestamp)
	}
	if e.Actor != "a@b.c" {
		t.Fatalf("expected trimmed actor, got %q", e.Actor)
	}
}

func TestAppend_KeepsCallerID(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	e, err := svc.Append(context.Background(), Event{ID: "evt_fixed", Timestamp: t0, Kind: KindLogout, Summary: "bye"})
	if err != nil || e.ID != "evt_fixed" {
		t.Fatalf("expected caller id kept, got %q err=%v", e.ID, err)
	}
	got, err := svc.Get(context.Background(), "evt_fixed")
	if err != nil || got.Summary != "bye" {
		t.Fatalf("get: %+v %v", got, err)
	}
}

func TestGet_UnknownIsNotFound(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if _, err := svc.Get(context.Background(), "evt_missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}

func TestQuery_PaginationConcatenatesToFullResult(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := svc.Append(ctx, Event{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Kind:      KindFileUpload,
			Summary:   "upload",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, total, err := svc.Query(ctx, Filter{})
	if err != nil || total != 5 || len(all) != 5 {
		t.Fatalf("unpaginated: n=%d total=%d err=%v", len(all), total, err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Fatalf("expected newest first")
		}
	}

	var paged []Event
	pages := 0
	for page := 1; ; page++ {
		items, total, err := svc.Query(ctx, Filter{Page: page, PageSize: 2})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if total != 5 {
			t.Fatalf("expected total 5, got %d", total)
		}
		if len(items) == 0 {
			break
		}
		pages++
		paged = append(paged, items...)
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	for i := range all {
		if paged[i].ID != all[i].ID {
			t.Fatalf("page concat mismatch at %d: %s != %s", i, paged[i].ID, all[i].ID)
		}
	}
}

func TestQuery_Filters(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	seed := []Event{
		{Timestamp: t0, Kind: KindLogin, Severity: SeverityInfo, Actor: "a", Summary: "s"},
		{Timestamp: t0.Add(time.Minute), Kind: KindFailedLogin, Severity: SeverityWarning, Actor: "b", Summary: "s"},
		{Timestamp: t0.Add(2 * time.Minute), Kind: KindAPIError, Severity: SeverityCritical, Actor: "a", Summary: "s"},
	}
	for _, e := range seed {
		if _, err := svc.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cases := []struct {
		name string
		f    Filter
		want int
	}{
		{"no constraint", Filter{}, 3},
		{"start inclusive", Filter{Start: t0.Add(time.Minute)}, 2},
		{"end inclusive", Filter{End: t0.Add(time.Minute)}, 2},
		{"severities", Filter{Severities: []Severity{SeverityWarning, SeverityCritical}}, 2},
		{"kinds", Filter{Kinds: []Kind{KindLogin}}, 1},
		{"actor", Filter{Actor: "a"}, 2},
		{"nothing matches", Filter{Actor: "nobody"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, total, err := svc.Query(ctx, tc.f)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if total != tc.want || len(items) != tc.want {
				t.Fatalf("expected %d, got total=%d len=%d", tc.want, total, len(items))
			}
		})
	}
}

func TestWindowReads_BoundsAndOrigin(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	add := func(at time.Time, origin string) {
		t.Helper()
		if _, err := svc.Append(ctx, Event{Timestamp: at, Kind: KindFailedLogin, Origin: origin, Summary: "f"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	add(t0, "1.2.3.4")
	add(t0.Add(5*time.Minute), "1.2.3.4")
	add(t0.Add(5*time.Minute), "5.6.7.8")
	add(t0.Add(16*time.Minute), "1.2.3.4")

	q := WindowQuery{Kind: KindFailedLogin, Origin: "1.2.3.4", Since: t0.Add(time.Minute), Until: t0.Add(16 * time.Minute)}
	n, err := svc.CountInWindow(ctx, q)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 in window, got %d err=%v", n, err)
	}

	q.Since = t0
	n, _ = svc.CountInWindow(ctx, q)
	if n != 3 {
		t.Fatalf("expected since to be inclusive, got %d", n)
	}

	list, err := svc.ListInWindow(ctx, q, 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 capped, got %d err=%v", len(list), err)
	}
	if !list[0].Timestamp.Equal(t0.Add(16 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", list[0].Timestamp)
	}

	if _, err := svc.CountInWindow(ctx, WindowQuery{Kind: "nope"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
}

func TestHelpers_ProduceValidEvents(t *testing.T) {
	src := Source{Origin: "10.0.0.1", Device: "curl/8", Resource: "/api/orders"}
	events := []Event{
		LoginSucceeded(t0, "a@b.c", src),
		LoginFailed(t0, "", "bad password", src),
		APIError(t0, "a@b.c", 502, "upstream timeout", src),
		PermissionChanged(t0, "a@b.c", "root@b.c", "seller", "admin", src),
		DataExported(t0, "a@b.c", 150, 1200, "csv", src),
	}
	for _, e := range events {
		if _, err := Normalize(e); err != nil {
			t.Fatalf("%s: %v", e.Kind, err)
		}
		if e.Origin != src.Origin || e.Resource != src.Resource {
			t.Fatalf("%s: source not applied", e.Kind)
		}
	}
	if events[2].Severity != SeverityCritical || events[2].Payload["status_code"] != 502 {
		t.Fatalf("unexpected api error event %+v", events[2])
	}
	if events[3].Severity != SeverityInfo || events[3].Actor != "a@b.c" || events[3].Payload["changed_by"] != "root@b.c" {
		t.Fatalf("unexpected permission change event %+v", events[3])
	}
	if events[4].Severity != SeverityWarning {
		t.Fatalf("expected large export to be warning")
	}
	if DataExported(t0, "a", 10, 1, "csv", src).Severity != SeverityInfo {
		t.Fatalf("expected small export to be info")
	}
}
