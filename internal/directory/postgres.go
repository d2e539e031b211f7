package directory

import (
	"context"
	"database/sql"
	"errors"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rbac"
)

// PostgresDirectory reads roles from the host application's users table.
// An actor matches on email (case-insensitive) or on the textual user id.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

func (d *PostgresDirectory) ResolveActorRole(ctx context.Context, actor string) (rbac.Role, error) {
	const q = `
SELECT role
FROM users
WHERE lower(email) = lower($1) OR id::text = $1
LIMIT 1
`
	var raw string
	if err := d.db.QueryRowContext(ctx, q, normalize(actor)).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrActorNotFound
		}
		return "", apperr.Transient("resolve actor role", err)
	}
	role, ok := rbac.ParseRole(raw)
	if !ok {
		// Unrecognized roles are treated as unprivileged.
		return "", nil
	}
	return role, nil
}
