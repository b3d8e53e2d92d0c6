// Package mssql implements storage.Repository for SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"xmlsift/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for SQL Server.
//
// Dedupe strategy:
//   - Avoids MERGE (locking and concurrency pitfalls).
//   - Uses INSERT ... SELECT over a VALUES table with a NOT EXISTS guard on
//     the conflict columns, which is idempotent under reprocessing.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if n := cfg.Options.Int("max_open_conns", 0); n > 0 {
		db.SetMaxOpenConns(n)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the target table behind an OBJECT_ID guard (SQL Server
// has no CREATE TABLE IF NOT EXISTS).
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

func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var (
		stmt string
		args []any
	)
	if len(conflictColumns) > 0 {
		stmt, args = buildInsertNotExistsSQL(table, columns, rows, conflictColumns)
	} else {
		stmt, args = buildBulkInsertSQL(table, columns, rows)
	}

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

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
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
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// buildInsertNotExistsSQL constructs INSERT ... SELECT ... WHERE NOT EXISTS
// over a VALUES-derived table, skipping rows whose conflict columns already
// exist in the target.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("src.")
		b.WriteString(msIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

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
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS src (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(table)
	b.WriteString(" t WHERE ")
	for i, c := range conflictColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(msIdent(c))
		b.WriteString(" = src.")
		b.WriteString(msIdent(c))
	}
	b.WriteString(");")

	return b.String(), args
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+2)
	parts = append(parts, "id BIGINT IDENTITY(1,1) PRIMARY KEY")
	for _, c := range t.Columns {
		switch c.Type {
		case "", "text", "json":
			// NVARCHAR(MAX) for both; SQL Server has no native JSON type
			// before 2025 and validates via ISJSON if needed.
		default:
			return "", fmt.Errorf("mssql: table %s column %s: unsupported logical type %q", t.Name, c.Name, c.Type)
		}
		parts = append(parts, fmt.Sprintf("%s NVARCHAR(MAX)", msIdent(c.Name)))
	}
	// No UNIQUE constraint here: NVARCHAR(MAX) cannot be indexed, so the
	// uniqueness guard for MSSQL lives in the NOT EXISTS insert instead.

	inner := strings.Join(parts, ",\n  ")
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (\n  %s\n); END;",
		t.Name, t.Name, inner,
	), nil
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
