package mssql

import (
	"strings"
	"testing"

	"xmlsift/internal/storage"
)

// TestBuildInsertNotExistsSQL verifies the anti-join dedupe insert: named
// @p placeholders, the VALUES-derived src table, and the NOT EXISTS guard over
// the conflict columns.
func TestBuildInsertNotExistsSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertNotExistsSQL("dbo.toys", []string{"name", "color"},
		[][]any{{"Brick", "Blue"}}, []string{"name"})

	for _, want := range []string{
		"INSERT INTO dbo.toys ([name], [color])",
		"SELECT src.[name], src.[color] FROM (VALUES (@p1, @p2)) AS src ([name], [color])",
		"WHERE NOT EXISTS (SELECT 1 FROM dbo.toys t WHERE t.[name] = src.[name]);",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql missing %q:\n%s", want, sql)
		}
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %#v", args)
	}
}

// TestBuildBulkInsertSQL verifies placeholder numbering across rows.
func TestBuildBulkInsertSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildBulkInsertSQL("dbo.toys", []string{"name"}, [][]any{{"A"}, {"B"}})

	want := "INSERT INTO dbo.toys ([name]) VALUES (@p1), (@p2);"
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %#v", args)
	}
}

// TestBuildCreateSQL verifies the OBJECT_ID guard so EnsureTable stays
// idempotent on a server without CREATE TABLE IF NOT EXISTS.
func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateSQL(storage.TableSpec{
		Name:    "dbo.toys",
		Columns: []storage.ColumnSpec{{Name: "name", Type: "text"}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if !strings.HasPrefix(ddl, "IF OBJECT_ID(N'dbo.toys', N'U') IS NULL BEGIN CREATE TABLE dbo.toys") {
		t.Fatalf("missing guard: %s", ddl)
	}
	if !strings.Contains(ddl, "[name] NVARCHAR(MAX)") {
		t.Fatalf("missing column def: %s", ddl)
	}
}
