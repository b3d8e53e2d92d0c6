package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xmlsift/internal/schema"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_FullPipeline(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "pipeline.json", `{
		"job": "toys",
		"source": {"kind": "file", "file": {"path": "/data/toys.xml"}},
		"schema": {"path": "/data/toys.schema.json"},
		"output": {"kind": "ndjson", "path": "/out/toys.ndjson"},
		"storage": {"kind": "sqlite", "dsn": "file:toys.db", "table": "toys", "auto_create_table": true, "options": {"busy_timeout_ms": 5000}},
		"runtime": {"batch_size": 256, "max_concurrent_jobs": 4},
		"server": {"addr": ":9090"}
	}`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Job != "toys" || p.Source.Kind != "file" || p.Source.File.Path != "/data/toys.xml" {
		t.Fatalf("unexpected pipeline: %#v", p)
	}
	if p.Storage.Options.Int("busy_timeout_ms", 0) != 5000 {
		t.Fatalf("options not decoded: %#v", p.Storage.Options)
	}
	if p.Runtime.BatchSize != 256 || p.Server.Addr != ":9090" {
		t.Fatalf("unexpected runtime/server: %#v %#v", p.Runtime, p.Server)
	}
}

// TestLoad_UnknownFieldRejected guards against silently ignored typos in
// config files.
func TestLoad_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "pipeline.json", `{"soruce": {"kind": "file"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error for unknown field")
	}
}

func TestSchemaRef_Resolve(t *testing.T) {
	t.Parallel()

	inline := &schema.Element{
		RootElement: "toy",
		Fields:      []schema.Field{{Name: "name"}},
	}
	schemaPath := writeFile(t, "toys.schema.json", `{"root_element": "toy", "fields": [{"name": "color"}]}`)

	t.Run("inline_wins_over_path", func(t *testing.T) {
		got, err := SchemaRef{Path: schemaPath, Inline: inline}.Resolve()
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != inline {
			t.Fatalf("expected inline schema, got %#v", got)
		}
	})

	t.Run("path_loaded", func(t *testing.T) {
		got, err := SchemaRef{Path: schemaPath}.Resolve()
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got.RootElement != "toy" || got.Fields[0].Name != "color" {
			t.Fatalf("unexpected schema: %#v", got)
		}
	})

	t.Run("invalid_inline_rejected", func(t *testing.T) {
		_, err := SchemaRef{Inline: &schema.Element{RootElement: "toy"}}.Resolve()
		if err == nil || !strings.Contains(err.Error(), "at least one field") {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("empty_ref_rejected", func(t *testing.T) {
		if _, err := (SchemaRef{}).Resolve(); err == nil {
			t.Fatalf("expected error for empty schema ref")
		}
	})
}

// TestValidatePipeline exercises the validation rules one knob at a time on
// top of a known-good pipeline.
func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	valid := Pipeline{
		Source: Source{Kind: "file", File: &FileSource{Path: "/data/in.xml"}},
		Schema: SchemaRef{Path: "/data/schema.json"},
		Output: Output{Kind: "ndjson", Path: "/out/records.ndjson"},
	}

	tests := []struct {
		name     string
		mutate   func(p *Pipeline)
		wantPath string // "" means no issue expected at all
	}{
		{name: "valid", mutate: func(p *Pipeline) {}},
		{
			name:     "missing_source_kind",
			mutate:   func(p *Pipeline) { p.Source = Source{} },
			wantPath: "source.kind",
		},
		{
			name:     "file_source_without_path",
			mutate:   func(p *Pipeline) { p.Source.File = nil },
			wantPath: "source.file.path",
		},
		{
			name:     "unsupported_source_kind",
			mutate:   func(p *Pipeline) { p.Source.Kind = "s3" },
			wantPath: "source.kind",
		},
		{
			name:     "missing_schema",
			mutate:   func(p *Pipeline) { p.Schema = SchemaRef{} },
			wantPath: "schema",
		},
		{
			name: "invalid_inline_schema",
			mutate: func(p *Pipeline) {
				p.Schema = SchemaRef{Inline: &schema.Element{RootElement: "toy"}}
			},
			wantPath: "schema.inline",
		},
		{
			name:     "unsupported_output_kind",
			mutate:   func(p *Pipeline) { p.Output.Kind = "parquet" },
			wantPath: "output.kind",
		},
		{
			name:     "storage_without_dsn",
			mutate:   func(p *Pipeline) { p.Storage = Storage{Kind: "postgres", Table: "toys"} },
			wantPath: "storage.dsn",
		},
		{
			name:     "storage_without_table",
			mutate:   func(p *Pipeline) { p.Storage = Storage{Kind: "postgres", DSN: "postgres://x"} },
			wantPath: "storage.table",
		},
		{
			name:     "no_sink_warns",
			mutate:   func(p *Pipeline) { p.Output = Output{} },
			wantPath: "output",
		},
		{
			name:     "negative_batch_size",
			mutate:   func(p *Pipeline) { p.Runtime.BatchSize = -1 },
			wantPath: "runtime.batch_size",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			issues := ValidatePipeline(p)

			if tc.wantPath == "" {
				if len(issues) != 0 {
					t.Fatalf("expected no issues, got %v", issues)
				}
				return
			}
			found := false
			for _, i := range issues {
				if i.Path == tc.wantPath {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected issue at %q, got %v", tc.wantPath, issues)
			}
		})
	}
}

// TestValidatePipeline_NoSinkIsWarningOnly verifies a sink-less pipeline is
// still runnable (HasErrors false) while the user is told records go nowhere.
func TestValidatePipeline_NoSinkIsWarningOnly(t *testing.T) {
	t.Parallel()

	p := Pipeline{
		Source: Source{Kind: "file", File: &FileSource{Path: "/data/in.xml"}},
		Schema: SchemaRef{Path: "/data/schema.json"},
	}
	issues := ValidatePipeline(p)
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Fatalf("expected exactly one warning, got %v", issues)
	}
	if HasErrors(issues) {
		t.Fatalf("warning-only issues must not count as errors")
	}
}

func TestOptions_Accessors(t *testing.T) {
	t.Parallel()

	o := Options{
		"name":    "toys",
		"enabled": true,
		"count":   float64(7), // JSON numbers decode as float64
		"exact":   3,
	}

	if got := o.String("name", "x"); got != "toys" {
		t.Fatalf("String = %q", got)
	}
	if got := o.String("missing", "fallback"); got != "fallback" {
		t.Fatalf("String fallback = %q", got)
	}
	if got := o.String("count", "fallback"); got != "fallback" {
		t.Fatalf("String wrong-type = %q", got)
	}
	if !o.Bool("enabled", false) || o.Bool("missing", false) {
		t.Fatalf("Bool accessors misbehaved")
	}
	if got := o.Int("count", 0); got != 7 {
		t.Fatalf("Int float64 = %d", got)
	}
	if got := o.Int("exact", 0); got != 3 {
		t.Fatalf("Int int = %d", got)
	}
	if got := o.Int("name", 9); got != 9 {
		t.Fatalf("Int wrong-type = %d", got)
	}
}
