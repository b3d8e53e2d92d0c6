// TableSpec lives here so the loader and the backend packages can both import
// it without circular deps.
package storage

// TableSpec describes the flat target table one extraction schema loads into.
type TableSpec struct {
	Name            string       `json:"name"`
	AutoCreateTable bool         `json:"auto_create_table"`
	Columns         []ColumnSpec `json:"columns"`
	// ConflictColumns, when non-empty, makes loads idempotent: a UNIQUE
	// constraint is created over them and conflicting rows are skipped.
	ConflictColumns []string `json:"conflict_columns,omitempty"`
}

// ColumnSpec is one target column. Type is the logical type ("text" or
// "json"); each backend maps it to its own storage type.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
