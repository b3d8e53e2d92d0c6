// Package config defines the JSON pipeline configuration consumed by the
// xmlsift binaries and its validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"xmlsift/internal/schema"
)

// Pipeline is the root configuration object for one extraction pipeline.
type Pipeline struct {
	// Job is the logical job name used in metrics tags and log lines.
	Job string `json:"job,omitempty"`

	Source  Source    `json:"source"`
	Schema  SchemaRef `json:"schema"`
	Output  Output    `json:"output"`
	Storage Storage   `json:"storage"`
	Runtime Runtime   `json:"runtime"`
	Server  Server    `json:"server"`
}

// Source describes where the XML document comes from.
type Source struct {
	Kind string      `json:"kind"` // "file"
	File *FileSource `json:"file,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

// SchemaRef points at the extraction schema, either a file path or inline.
// When both are set, Inline wins.
type SchemaRef struct {
	Path   string          `json:"path,omitempty"`
	Inline *schema.Element `json:"inline,omitempty"`
}

// Resolve loads the referenced schema.
func (s SchemaRef) Resolve() (*schema.Element, error) {
	if s.Inline != nil {
		if err := s.Inline.Validate(); err != nil {
			return nil, err
		}
		return s.Inline, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("config: schema.path or schema.inline is required")
	}
	return schema.Load(s.Path)
}

// Output controls record serialization.
type Output struct {
	Kind string `json:"kind"` // "ndjson" or "none"
	Path string `json:"path,omitempty"`
}

// Storage selects and configures the batch-upsert backend. An empty Kind
// disables database loading.
type Storage struct {
	Kind            string  `json:"kind,omitempty"` // "postgres", "sqlite", "mssql"
	DSN             string  `json:"dsn,omitempty"`
	Table           string  `json:"table,omitempty"`
	AutoCreateTable bool    `json:"auto_create_table,omitempty"`
	Options         Options `json:"options,omitempty"`
}

// Runtime holds knobs that bound memory and concurrency.
type Runtime struct {
	// BatchSize is the number of records buffered before a storage flush.
	// Defaults to 1024 when <= 0.
	BatchSize int `json:"batch_size,omitempty"`
	// MaxConcurrentJobs bounds server-side extraction concurrency.
	// Defaults to 2 when <= 0.
	MaxConcurrentJobs int `json:"max_concurrent_jobs,omitempty"`
}

// Server configures the upload/SSE HTTP server (cmd/xmlsiftd).
type Server struct {
	Addr string `json:"addr,omitempty"` // defaults to ":8080"
	// MaxUploadBytes caps a single uploaded document. Defaults to 2 GiB.
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`
	// TmpDir is where uploads are spooled. Defaults to os.TempDir().
	TmpDir string `json:"tmp_dir,omitempty"`
}

// Load reads and decodes a pipeline config file. Validation is separate
// (ValidatePipeline) so callers can render all issues, not just the first.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}
