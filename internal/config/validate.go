package config

import "fmt"

// Severity classifies validation issues.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by a dotted config path so users
// can locate it in the JSON file.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

func errorf(path, format string, v ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, v...)}
}

func warnf(path, format string, v ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, v...)}
}

// ValidatePipeline checks p and returns every issue found, errors and
// warnings alike. An empty result means the pipeline is runnable.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	switch p.Source.Kind {
	case "file":
		if p.Source.File == nil || p.Source.File.Path == "" {
			issues = append(issues, errorf("source.file.path", "required when source.kind=file"))
		}
	case "":
		issues = append(issues, errorf("source.kind", "required (supported: file)"))
	default:
		issues = append(issues, errorf("source.kind", "unsupported kind %q (supported: file)", p.Source.Kind))
	}

	if p.Schema.Path == "" && p.Schema.Inline == nil {
		issues = append(issues, errorf("schema", "schema.path or schema.inline is required"))
	}
	if p.Schema.Inline != nil {
		if err := p.Schema.Inline.Validate(); err != nil {
			issues = append(issues, errorf("schema.inline", "%v", err))
		}
	}

	switch p.Output.Kind {
	case "", "none", "ndjson":
	default:
		issues = append(issues, errorf("output.kind", "unsupported kind %q (supported: ndjson, none)", p.Output.Kind))
	}

	if p.Storage.Kind != "" {
		if p.Storage.DSN == "" {
			issues = append(issues, errorf("storage.dsn", "required when storage.kind is set"))
		}
		if p.Storage.Table == "" {
			issues = append(issues, errorf("storage.table", "required when storage.kind is set"))
		}
	}

	if (p.Output.Kind == "" || p.Output.Kind == "none") && p.Storage.Kind == "" {
		issues = append(issues, warnf("output", "neither output.kind nor storage.kind is set; records will be discarded"))
	}

	if p.Runtime.BatchSize < 0 {
		issues = append(issues, errorf("runtime.batch_size", "must be >= 0"))
	}
	if p.Runtime.MaxConcurrentJobs < 0 {
		issues = append(issues, errorf("runtime.max_concurrent_jobs", "must be >= 0"))
	}

	return issues
}

// HasErrors reports whether issues contains at least one error-severity issue.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
