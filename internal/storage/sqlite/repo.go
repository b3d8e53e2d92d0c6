// Package sqlite implements storage.Repository for SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"xmlsift/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no ON CONFLICT (...) DO NOTHING over an ad-hoc column list;
//     "INSERT OR IGNORE" provides the same idempotency when the target table
//     carries a UNIQUE constraint over the conflict columns (EnsureTable
//     creates one).
//   - There is no JSONB type; "json" columns get TEXT affinity, which is what
//     modernc.org/sqlite stores anyway.
type Repo struct {
	db *sql.DB
}

// New opens the database and verifies the connection.
//
// Options:
//   - "busy_timeout_ms" (int): how long writers wait on a locked database
//     before failing. Defaults to 5000.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if timeout := cfg.Options.Int("busy_timeout_ms", 5000); timeout > 0 && !strings.Contains(dsn, "busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, timeout)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the target table when AutoCreateTable is set; idempotent
// across restarts.
func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	if !t.AutoCreateTable {
		return nil
	}
	ddl, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// UpsertRows bulk-inserts rows in one statement.
//
// If conflictColumns is non-empty, uses "INSERT OR IGNORE", which requires a
// UNIQUE constraint over those columns on the target table.
func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt, args := buildInsertSQL(table, columns, rows, len(conflictColumns) > 0)

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// buildInsertSQL constructs one INSERT [OR IGNORE] ... VALUES statement.
// Pure so tests can assert the exact SQL without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, ignoreDupes bool) (string, []any) {
	var b strings.Builder
	if ignoreDupes {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+2)
	parts = append(parts, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range t.Columns {
		switch c.Type {
		case "", "text", "json":
			// everything stores as TEXT affinity
		default:
			return "", fmt.Errorf("sqlite: table %s column %s: unsupported logical type %q", t.Name, c.Name, c.Type)
		}
		parts = append(parts, fmt.Sprintf("%s TEXT", sqlIdent(c.Name)))
	}
	if len(t.ConflictColumns) > 0 {
		quoted := make([]string, 0, len(t.ConflictColumns))
		for _, c := range t.ConflictColumns {
			quoted = append(quoted, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(quoted, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
