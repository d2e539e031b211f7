package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rules"
	"activity-monitor/pkg/utils"
)

// Schema creates the alerts table. (rule_name, correlation_key, created_at)
// serves the dedup lookup on every firing. alert_events keeps every event id an
// alert has ever absorbed; alerts.event_ids only shows the newest ones.
const Schema = `
CREATE TABLE IF NOT EXISTS alerts (
  id                TEXT PRIMARY KEY,
  rule_name         TEXT NOT NULL,
  correlation_key   TEXT NOT NULL,
  event_ids         JSONB NOT NULL,
  title             TEXT NOT NULL,
  description       TEXT NOT NULL,
  severity          TEXT NOT NULL,
  acknowledged      BOOLEAN NOT NULL DEFAULT FALSE,
  acknowledged_by   TEXT NULL,
  assigned_to       TEXT NULL,
  suggested_actions JSONB NOT NULL,
  created_at        TIMESTAMPTZ NOT NULL,
  updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_rule_key_created_idx ON alerts (rule_name, correlation_key, created_at DESC);
CREATE INDEX IF NOT EXISTS alerts_created_idx ON alerts (created_at DESC, id DESC);
CREATE TABLE IF NOT EXISTS alert_events (
  alert_id TEXT NOT NULL REFERENCES alerts (id),
  event_id TEXT NOT NULL,
  PRIMARY KEY (alert_id, event_id)
);
CREATE INDEX IF NOT EXISTS alert_events_event_idx ON alert_events (event_id);
`

const alertColumns = `id, rule_name, correlation_key, event_ids, title, description, severity, acknowledged, acknowledged_by, assigned_to, suggested_actions, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return apperr.Transient("create alerts", err)
	}
	return nil
}

func (r *PostgresRepo) Insert(ctx context.Context, a Alert) error {
	const q = `
INSERT INTO alerts (` + alertColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	ids, err := json.Marshal(a.EventIDs)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(nonNilActions(a.SuggestedActions))
	if err != nil {
		return err
	}
	err = utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q,
			a.ID,
			string(a.RuleName),
			a.CorrelationKey,
			string(ids),
			a.Title,
			a.Description,
			string(a.Severity),
			a.Acknowledged,
			utils.NullString(a.AcknowledgedBy),
			utils.NullString(a.AssignedTo),
			string(actions),
			a.CreatedAt,
			a.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := recordEvents(ctx, tx, a.ID, a.EventIDs)
		return err
	})
	if err != nil {
		return apperr.Transient("insert alert", err)
	}
	return nil
}

// recordEvents inserts ids into alert_events and returns the ones the alert had not seen.
func recordEvents(ctx context.Context, tx *sql.Tx, alertID string, ids []string) ([]string, error) {
	const q = `INSERT INTO alert_events (alert_id, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	var fresh []string
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, q, alertID, id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	return r.one(ctx, "get alert", id, q, id)
}

func (r *PostgresRepo) FindOpen(ctx context.Context, rule rules.Name, key string, since time.Time) (Alert, bool, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts
WHERE rule_name = $1 AND correlation_key = $2 AND acknowledged = FALSE AND created_at >= $3
ORDER BY created_at DESC, id DESC
LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, string(rule), key, since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, false, nil
		}
		return Alert{}, false, apperr.Transient("find open alert", err)
	}
	return a, true, nil
}

func (r *PostgresRepo) FindByEvent(ctx context.Context, rule rules.Name, key, eventID string) (Alert, bool, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts
WHERE rule_name = $1 AND correlation_key = $2
  AND id IN (SELECT alert_id FROM alert_events WHERE event_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, string(rule), key, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, false, nil
		}
		return Alert{}, false, apperr.Transient("find alert by event", err)
	}
	return a, true, nil
}

// MergeEvents locks the row, records ids in alert_events and writes the display
// list back in one transaction.
func (r *PostgresRepo) MergeEvents(ctx context.Context, id string, ids []string, max int, at time.Time) (Alert, int, error) {
	var (
		out   Alert
		added int
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 FOR UPDATE`
		a, err := scanAlert(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}
		out = a
		fresh, err := recordEvents(ctx, tx, id, ids)
		if err != nil {
			return err
		}
		added = len(fresh)
		if added == 0 {
			return nil
		}
		merged, _ := mergeIDs(a.EventIDs, fresh, max)
		b, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE alerts SET event_ids = $2, updated_at = $3 WHERE id = $1`, id, string(b), at); err != nil {
			return err
		}
		out.EventIDs = merged
		out.UpdatedAt = at
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, 0, apperr.NotFound("alert", id)
		}
		return Alert{}, 0, apperr.Transient("merge alert events", err)
	}
	return out, added, nil
}

func (r *PostgresRepo) Acknowledge(ctx context.Context, id, by string, at time.Time) (Alert, error) {
	q := `UPDATE alerts SET acknowledged = TRUE, acknowledged_by = $2, updated_at = $3
WHERE id = $1
RETURNING ` + alertColumns
	return r.one(ctx, "acknowledge alert", id, q, id, utils.NullString(by), at)
}

func (r *PostgresRepo) Assign(ctx context.Context, id, actor string, at time.Time) (Alert, error) {
	q := `UPDATE alerts SET assigned_to = $2, updated_at = $3
WHERE id = $1
RETURNING ` + alertColumns
	return r.one(ctx, "assign alert", id, q, id, utils.NullString(actor), at)
}

func (r *PostgresRepo) Query(ctx context.Context, f Filter) ([]Alert, int, error) {
	var w utils.Where
	if !f.Start.IsZero() {
		w.Add("created_at >= ?", f.Start)
	}
	if !f.End.IsZero() {
		w.Add("created_at <= ?", f.End)
	}
	if len(f.Severities) > 0 {
		vals := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			vals[i] = string(s)
		}
		w.In("severity", vals)
	}
	if f.Acknowledged != nil {
		w.Add("acknowledged = ?", *f.Acknowledged)
	}
	if f.Rule != "" {
		w.Add("rule_name = ?", string(f.Rule))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM alerts`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, apperr.Transient("count alerts", err)
	}
	if total == 0 {
		return []Alert{}, 0, nil
	}

	q := fmt.Sprintf(`SELECT %s FROM alerts%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		alertColumns, w.SQL(), f.PageSize, f.Offset())
	rows, err := r.db.QueryContext(ctx, q, w.Args()...)
	if err != nil {
		return nil, 0, apperr.Transient("list alerts", err)
	}
	defer rows.Close()

	out := make([]Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, apperr.Transient("scan alert", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Transient("list alerts", err)
	}
	return out, total, nil
}

func (r *PostgresRepo) CountOpenBySeverity(ctx context.Context) (map[rules.Severity]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT severity, count(*) FROM alerts WHERE acknowledged = FALSE GROUP BY severity`)
	if err != nil {
		return nil, apperr.Transient("count open alerts", err)
	}
	defer rows.Close()

	out := map[rules.Severity]int{}
	for rows.Next() {
		var (
			sev string
			n   int
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, apperr.Transient("scan open alerts", err)
		}
		out[rules.Severity(sev)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("count open alerts", err)
	}
	return out, nil
}

func (r *PostgresRepo) one(ctx context.Context, op, id, q string, args ...any) (Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, apperr.NotFound("alert", id)
		}
		return Alert{}, apperr.Transient(op, err)
	}
	return a, nil
}

func scanAlert(row utils.RowScanner) (Alert, error) {
	var (
		a                    Alert
		rule, severity       string
		ackBy, assigned      sql.NullString
		eventIDs, actionsRaw []byte
	)
	if err := row.Scan(
		&a.ID,
		&rule,
		&a.CorrelationKey,
		&eventIDs,
		&a.Title,
		&a.Description,
		&severity,
		&a.Acknowledged,
		&ackBy,
		&assigned,
		&actionsRaw,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}
	a.RuleName = rules.Name(rule)
	a.Severity = rules.Severity(severity)
	a.AcknowledgedBy = ackBy.String
	a.AssignedTo = assigned.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := json.Unmarshal(eventIDs, &a.EventIDs); err != nil {
		return Alert{}, fmt.Errorf("decode event_ids: %w", err)
	}
	a.SuggestedActions = []rules.Action{}
	if len(actionsRaw) > 0 {
		if err := json.Unmarshal(actionsRaw, &a.SuggestedActions); err != nil {
			return Alert{}, fmt.Errorf("decode suggested_actions: %w", err)
		}
	}
	return a, nil
}

func nonNilActions(in []rules.Action) []rules.Action {
	if in == nil {
		return []rules.Action{}
	}
	return in
}
