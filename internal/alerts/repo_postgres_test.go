package alerts

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rules"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alertRowColumns = []string{
	"id", "rule_name", "correlation_key", "event_ids", "title", "description", "severity",
	"acknowledged", "acknowledged_by", "assigned_to", "suggested_actions", "created_at", "updated_at",
}

const insertAlertEvent = `INSERT INTO alert_events (alert_id, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepo(db), mock
}

func alertRow(id string, ack bool, eventIDs string) *sqlmock.Rows {
	return sqlmock.NewRows(alertRowColumns).AddRow(
		id, "failed_login_burst", "1.2.3.4", []byte(eventIDs), "Multiple Failed Login Attempts Detected", "desc",
		"critical", ack, nil, nil, []byte(`["block_ip","force_password_reset"]`), t0, t0,
	)
}

func TestPostgresRepo_InsertEncodesLists(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := Alert{
		ID:             "a1",
		RuleName:       rules.PermissionChange,
		CorrelationKey: "sam@corp",
		EventIDs:       []string{"evt_1"},
		Title:          "User Permissions Changed",
		Description:    "Permissions changed for user sam@corp",
		Severity:       rules.SeverityInfo,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs("a1", "permission_change", "sam@corp", `["evt_1"]`, a.Title, a.Description, "info",
			false, sqlmock.AnyArg(), sqlmock.AnyArg(), `[]`, t0, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindOpen(t *testing.T) {
	repo, mock := newMockRepo(t)
	since := t0.Add(-15 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE rule_name = $1 AND correlation_key = $2 AND acknowledged = FALSE AND created_at >= $3")).
		WithArgs("failed_login_burst", "1.2.3.4", since).
		WillReturnRows(alertRow("a1", false, `["e1","e2"]`))

	a, ok, err := repo.FindOpen(context.Background(), rules.FailedLoginBurst, "1.2.3.4", since)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"e1", "e2"}, a.EventIDs)
	assert.Equal(t, []rules.Action{rules.ActionBlockIP, rules.ActionForcePasswordReset}, a.SuggestedActions)

	mock.ExpectQuery("acknowledged = FALSE").WillReturnRows(sqlmock.NewRows(alertRowColumns))
	_, ok, err = repo.FindOpen(context.Background(), rules.FailedLoginBurst, "9.9.9.9", since)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresRepo_FindByEventSearchesRecordedEvents(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("id IN (SELECT alert_id FROM alert_events WHERE event_id = $3)")).
		WithArgs("failed_login_burst", "1.2.3.4", "e2").
		WillReturnRows(alertRow("a1", true, `["e1","e2"]`))

	a, ok, err := repo.FindByEvent(context.Background(), rules.FailedLoginBurst, "1.2.3.4", "e2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.Acknowledged)
}

func TestPostgresRepo_MergeEventsInTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := t0.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs("a1").
		WillReturnRows(alertRow("a1", false, `["e1","e2"]`))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "e2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "e3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts SET event_ids = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("a1", `["e1","e2","e3"]`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, added, err := repo.MergeEvents(context.Background(), "a1", []string{"e2", "e3"}, MaxEventIDs, at)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"e1", "e2", "e3"}, a.EventIDs)
	assert.Equal(t, at, a.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_MergeEventsNothingNewSkipsUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(alertRow("a1", false, `["e1"]`))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, added, err := repo.MergeEvents(context.Background(), "a1", []string{"e1"}, MaxEventIDs, t0)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An id trimmed from event_ids is still in alert_events and must not come back.
func TestPostgresRepo_MergeEventsSkipsTrimmedIDs(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := t0.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(alertRow("a1", false, `["e2","e3"]`))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertAlertEvent)).
		WithArgs("a1", "e4").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE alerts SET event_ids").
		WithArgs("a1", `["e3","e4"]`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, added, err := repo.MergeEvents(context.Background(), "a1", []string{"e1", "e4"}, 2, at)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"e3", "e4"}, a.EventIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_MergeEventsUnknownAlert(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectRollback()

	_, _, err := repo.MergeEvents(context.Background(), "nope", []string{"e1"}, MaxEventIDs, t0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresRepo_Acknowledge(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alerts SET acknowledged = TRUE")).
		WithArgs("a1", sqlmock.AnyArg(), t0).
		WillReturnRows(alertRow("a1", true, `["e1"]`))

	a, err := repo.Acknowledge(context.Background(), "a1", "it@corp", t0)
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)

	mock.ExpectQuery("UPDATE alerts SET acknowledged").WillReturnRows(sqlmock.NewRows(alertRowColumns))
	_, err = repo.Acknowledge(context.Background(), "missing", "it@corp", t0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectQuery("UPDATE alerts SET acknowledged").WillReturnError(errors.New("conn reset"))
	_, err = repo.Acknowledge(context.Background(), "a1", "it@corp", t0)
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestPostgresRepo_QueryTriState(t *testing.T) {
	repo, mock := newMockRepo(t)
	open := false

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM alerts WHERE severity IN ($1) AND acknowledged = $2")).
		WithArgs("critical", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT 50 OFFSET 0")).
		WithArgs("critical", false).
		WillReturnRows(alertRow("a1", false, `["e1"]`))

	items, total, err := repo.Query(context.Background(), NormalizeFilter(Filter{
		Severities:   []rules.Severity{rules.SeverityCritical},
		Acknowledged: &open,
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CountOpenBySeverity(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("GROUP BY severity").
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).AddRow("critical", 2).AddRow("info", 5))

	counts, err := repo.CountOpenBySeverity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[rules.SeverityCritical])
	assert.Equal(t, 5, counts[rules.SeverityInfo])
}
