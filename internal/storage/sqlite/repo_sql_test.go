package sqlite

import (
	"reflect"
	"strings"
	"testing"

	"xmlsift/internal/storage"
)

// TestBuildInsertSQL verifies statement shape and arg alignment for the plain
// and OR IGNORE variants.
func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("toys", []string{"name", "color"},
		[][]any{{"Brick", "Blue"}, {"Duck", "Yellow"}}, false)

	want := `INSERT INTO toys ("name", "color") VALUES (?, ?), (?, ?);`
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	if !reflect.DeepEqual(args, []any{"Brick", "Blue", "Duck", "Yellow"}) {
		t.Fatalf("unexpected args: %#v", args)
	}

	sql, _ = buildInsertSQL("toys", []string{"name"}, [][]any{{"Brick"}}, true)
	if !strings.HasPrefix(sql, "INSERT OR IGNORE INTO ") {
		t.Fatalf("expected OR IGNORE prefix, got %q", sql)
	}
}

// TestBuildCreateSQL verifies the UNIQUE constraint that makes OR IGNORE an
// actual dedupe rather than a no-op.
func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateSQL(storage.TableSpec{
		Name: "toys",
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: "text"},
			{Name: "store", Type: "json"},
		},
		ConflictColumns: []string{"name"},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS toys",
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		`"name" TEXT`,
		`"store" TEXT`,
		`UNIQUE ("name")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}
