// Package load persists extracted records into a storage backend in bounded
// batches, flattening each record to one row of the target table.
package load

import (
	"encoding/json"
	"fmt"
	"strings"

	"xmlsift/internal/schema"
	"xmlsift/internal/storage"
)

// TableSpecFor derives the flat target table from an extraction schema:
// one column per top-level field, in schema order. Text fields become text
// columns; object and array fields are serialized to a json column.
//
// The derivation is deterministic, so re-running the same schema always
// targets the same table shape.
func TableSpecFor(table string, sch *schema.Element, autoCreate bool, conflictColumns []string) storage.TableSpec {
	cols := make([]storage.ColumnSpec, 0, len(sch.Fields))
	for _, f := range sch.Fields {
		typ := "text"
		if k := f.EffectiveKind(); k == schema.KindObject || k == schema.KindArray {
			typ = "json"
		}
		cols = append(cols, storage.ColumnSpec{Name: columnName(f.Name), Type: typ})
	}
	return storage.TableSpec{
		Name:            table,
		AutoCreateTable: autoCreate,
		Columns:         cols,
		ConflictColumns: conflictColumns,
	}
}

// columnName normalizes a schema field name into a database identifier.
func columnName(field string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), " ", "_")
}

// flattenInto fills row (pre-sized to len(sch.Fields)) from rec.
//
// Absent fields map to nil so the database sees NULL, preserving the
// present-vs-absent distinction the extractor guarantees. Nested values are
// JSON-encoded; records are plain map/[]any/string trees, so encoding cannot
// realistically fail, but the error is still propagated rather than dropped.
func flattenInto(row []any, rec map[string]any, sch *schema.Element) error {
	for i, f := range sch.Fields {
		v, ok := rec[f.Name]
		if !ok {
			row[i] = nil
			continue
		}
		switch f.EffectiveKind() {
		case schema.KindText:
			row[i] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("load: encode field %s: %w", f.Name, err)
			}
			row[i] = string(b)
		}
	}
	return nil
}
