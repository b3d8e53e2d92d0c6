// Package storage defines the backend-agnostic batch-upsert interface used to
// persist extracted records, plus the factory registry the backends hook into.
package storage

import (
	"context"
	"fmt"
	"sync"

	"xmlsift/internal/config"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
//   - Options carries backend-specific knobs (see each backend's docs).
type Config struct {
	Kind    string
	DSN     string
	Options config.Options
}

// Repository is the backend-agnostic batch-upsert interface.
//
// IMPORTANT: This interface is intentionally minimal and focused on what the
// record loader needs. Each backend implements idempotent inserts in its own
// idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE, MSSQL NOT EXISTS).
type Repository interface {
	// Close releases backend resources (connections, pools). Treat as
	// "call once" at shutdown.
	Close()

	// EnsureTable creates the target table if t.AutoCreateTable is set,
	// with create-if-not-exists semantics so startup stays idempotent.
	EnsureTable(ctx context.Context, t TableSpec) error

	// UpsertRows bulk-inserts rows aligned with columns. When
	// conflictColumns is non-empty the insert must be idempotent: rows
	// already present (by those columns) are skipped, and the returned
	// count reflects rows actually written.
	UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind (e.g. "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Failing
//     fast avoids ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
