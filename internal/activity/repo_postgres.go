package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"activity-monitor/internal/apperr"
	"activity-monitor/pkg/utils"
)

// Schema creates the append-only events table and the window indexes.
// Rule windows read (kind, ts) and (kind, origin, ts); dashboards read ts desc.
const Schema = `
CREATE TABLE IF NOT EXISTS activity_events (
  id                TEXT PRIMARY KEY,
  ts                TIMESTAMPTZ NOT NULL,
  actor             TEXT NULL,
  kind              TEXT NOT NULL,
  severity          TEXT NOT NULL,
  origin            TEXT NULL,
  device            TEXT NULL,
  resource          TEXT NULL,
  summary           TEXT NOT NULL,
  payload           JSONB NULL,
  related_event_ids JSONB NULL,
  server_logs       TEXT NULL,
  stack_trace       TEXT NULL
);
CREATE INDEX IF NOT EXISTS activity_events_kind_ts_idx ON activity_events (kind, ts);
CREATE INDEX IF NOT EXISTS activity_events_kind_origin_ts_idx ON activity_events (kind, origin, ts);
CREATE INDEX IF NOT EXISTS activity_events_ts_idx ON activity_events (ts DESC, id DESC);
`

const eventColumns = `id, ts, actor, kind, severity, origin, device, resource, summary, payload, related_event_ids, server_logs, stack_trace`

// PostgresRepo stores events in Postgres through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema applies Schema. Safe to run on every start.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return apperr.Transient("create activity_events", err)
	}
	return nil
}

func (r *PostgresRepo) Insert(ctx context.Context, e Event) error {
	const q = `
INSERT INTO activity_events (` + eventColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	payload, err := marshalNullable(e.Payload)
	if err != nil {
		return apperr.Invalid("payload", "is not serializable")
	}
	related, err := marshalNullable(e.RelatedEventIDs)
	if err != nil {
		return apperr.Invalid("related_event_ids", "is not serializable")
	}

	_, err = r.db.ExecContext(ctx, q,
		e.ID,
		e.Timestamp,
		utils.NullString(e.Actor),
		string(e.Kind),
		string(e.Severity),
		utils.NullString(e.Origin),
		utils.NullString(e.Device),
		utils.NullString(e.Resource),
		e.Summary,
		payload,
		related,
		utils.NullString(e.ServerLogs),
		utils.NullString(e.StackTrace),
	)
	if err != nil {
		return apperr.Transient("insert event", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Event, error) {
	q := `SELECT ` + eventColumns + ` FROM activity_events WHERE id = $1`
	e, err := scanEvent(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, apperr.NotFound("event", id)
		}
		return Event{}, apperr.Transient("get event", err)
	}
	return e, nil
}

func (r *PostgresRepo) Query(ctx context.Context, f Filter) ([]Event, int, error) {
	var w utils.Where
	if !f.Start.IsZero() {
		w.Add("ts >= ?", f.Start)
	}
	if !f.End.IsZero() {
		w.Add("ts <= ?", f.End)
	}
	if len(f.Severities) > 0 {
		w.In("severity", toStrings(f.Severities))
	}
	if len(f.Kinds) > 0 {
		w.In("kind", toStrings(f.Kinds))
	}
	if f.Actor != "" {
		w.Add("actor = ?", f.Actor)
	}

	var total int
	countQ := `SELECT count(*) FROM activity_events` + w.SQL()
	if err := r.db.QueryRowContext(ctx, countQ, w.Args()...).Scan(&total); err != nil {
		return nil, 0, apperr.Transient("count events", err)
	}
	if total == 0 {
		return []Event{}, 0, nil
	}

	listQ := fmt.Sprintf(`SELECT %s FROM activity_events%s ORDER BY ts DESC, id DESC LIMIT %d OFFSET %d`,
		eventColumns, w.SQL(), f.PageSize, f.Offset())
	out, err := r.list(ctx, listQ, w.Args()...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresRepo) CountInWindow(ctx context.Context, q WindowQuery) (int, error) {
	w := windowWhere(q)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM activity_events`+w.SQL(), w.Args()...).Scan(&n); err != nil {
		return 0, apperr.Transient("count window", err)
	}
	return n, nil
}

func (r *PostgresRepo) ListInWindow(ctx context.Context, q WindowQuery, limit int) ([]Event, error) {
	w := windowWhere(q)
	listQ := fmt.Sprintf(`SELECT %s FROM activity_events%s ORDER BY ts DESC, id DESC LIMIT %d`,
		eventColumns, w.SQL(), limit)
	return r.list(ctx, listQ, w.Args()...)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Transient("list events", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Transient("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("list events", err)
	}
	return out, nil
}

func windowWhere(q WindowQuery) utils.Where {
	var w utils.Where
	w.Add("kind = ?", string(q.Kind))
	if q.Origin != "" {
		w.Add("origin = ?", q.Origin)
	}
	w.Add("ts >= ?", q.Since)
	if !q.Until.IsZero() {
		w.Add("ts <= ?", q.Until)
	}
	return w
}

func scanEvent(row utils.RowScanner) (Event, error) {
	var (
		e                                                  Event
		kind, severity                                     string
		actor, origin, device, resource, serverLogs, stack sql.NullString
		payload, related                                   []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.Timestamp,
		&actor,
		&kind,
		&severity,
		&origin,
		&device,
		&resource,
		&e.Summary,
		&payload,
		&related,
		&serverLogs,
		&stack,
	); err != nil {
		return Event{}, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Kind = Kind(kind)
	e.Severity = Severity(severity)
	e.Actor = actor.String
	e.Origin = origin.String
	e.Device = device.String
	e.Resource = resource.String
	e.ServerLogs = serverLogs.String
	e.StackTrace = stack.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return Event{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(related) > 0 {
		if err := json.Unmarshal(related, &e.RelatedEventIDs); err != nil {
			return Event{}, fmt.Errorf("decode related_event_ids: %w", err)
		}
	}
	return e, nil
}

// marshalNullable encodes v as JSON, or NULL when v is empty.
func marshalNullable[T any](v T) (any, error) {
	switch x := any(v).(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
