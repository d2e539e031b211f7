package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rbac"
)

// ErrActorNotFound is returned for actors the directory does not know.
// It matches apperr.ErrNotFound.
var ErrActorNotFound = fmt.Errorf("actor: %w", apperr.ErrNotFound)

// Resolver maps an actor identity (email or user id) to its role.
// The user directory itself belongs to the host application.
type Resolver interface {
	ResolveActorRole(ctx context.Context, actor string) (rbac.Role, error)
}

// MemoryDirectory is a fixed actor->role table for tests and local runs.
type MemoryDirectory struct {
	mu    sync.RWMutex
	roles map[string]rbac.Role
}

func NewMemoryDirectory(seed map[string]rbac.Role) *MemoryDirectory {
	d := &MemoryDirectory{roles: map[string]rbac.Role{}}
	for actor, role := range seed {
		d.roles[normalize(actor)] = role
	}
	return d
}

func (d *MemoryDirectory) Put(actor string, role rbac.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[normalize(actor)] = role
}

func (d *MemoryDirectory) ResolveActorRole(ctx context.Context, actor string) (rbac.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.roles[normalize(actor)]
	if !ok {
		return "", ErrActorNotFound
	}
	return r, nil
}

func normalize(actor string) string {
	return strings.ToLower(strings.TrimSpace(actor))
}

// ParseSeed reads "actor=role" pairs separated by commas, e.g.
// "root@corp=admin,sam@corp=seller".
func ParseSeed(s string) (map[string]rbac.Role, error) {
	out := map[string]rbac.Role{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		actor, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(actor) == "" {
			return nil, fmt.Errorf("directory seed: malformed entry %q", pair)
		}
		role, ok := rbac.ParseRole(raw)
		if !ok {
			return nil, fmt.Errorf("directory seed: unknown role %q for %s", raw, actor)
		}
		out[normalize(actor)] = role
	}
	return out, nil
}
