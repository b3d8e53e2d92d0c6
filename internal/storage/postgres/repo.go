// Package postgres implements storage.Repository for Postgres using pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"xmlsift/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
//
// Idempotency: UpsertRows with conflict columns translates to
// INSERT ... ON CONFLICT (...) DO NOTHING. Without it, duplicate rows in the
// same input (or in reprocessing) would raise unique violations and fail the
// run.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Repo.
//
// Options:
//   - "pool_max_conns" (int): appended to the DSN when not already present.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if n := cfg.Options.Int("pool_max_conns", 0); n > 0 && !strings.Contains(dsn, "pool_max_conns") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%spool_max_conns=%d", dsn, sep, n)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the target table if requested; safe to call on every
// startup.
func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	if !t.AutoCreateTable {
		return nil
	}
	sql, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// UpsertRows performs one bulk INSERT per call.
func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	sql, args := buildInsertSQL(table, columns, rows, conflictColumns)

	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so we can unit test correctness
//     (especially ON CONFLICT behavior and placeholder numbering) without a
//     database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

// buildCreateSQL builds idempotent CREATE TABLE SQL, including the UNIQUE
// constraint backing ON CONFLICT when conflict columns are configured.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+1)
	parts = append(parts, "id BIGSERIAL PRIMARY KEY")
	for _, c := range t.Columns {
		typ, err := pgColumnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s column %s: %w", t.Name, c.Name, err)
		}
		parts = append(parts, fmt.Sprintf("%s %s", pgIdent(c.Name), typ))
	}
	if len(t.ConflictColumns) > 0 {
		quoted := make([]string, 0, len(t.ConflictColumns))
		for _, c := range t.ConflictColumns {
			quoted = append(quoted, pgIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(quoted, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func pgColumnType(logical string) (string, error) {
	switch logical {
	case "", "text":
		return "TEXT", nil
	case "json":
		return "JSONB", nil
	default:
		return "", fmt.Errorf("unsupported logical type %q", logical)
	}
}

// pgIdent double-quotes an identifier so reserved words and mixed case stay
// usable as column names.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
