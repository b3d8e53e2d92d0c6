// Package metrics is a tiny facade over a pluggable metrics backend.
//
// Core packages call the package-level helpers unconditionally; unless a
// backend is installed (cmd wiring decides that), every call is a cheap no-op.
// This keeps Datadog-specific code out of the extraction and loading paths.
package metrics

import "sync"

// Labels carries metric dimensions (e.g. {"table": "toys"}).
type Labels map[string]string

// Backend buffers and ships metrics. Implementations must be safe for
// concurrent use; callers never wait on network I/O (submission happens in
// Flush/Close).
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush submits buffered metrics.
func Flush() error { return current().Flush() }

// Close stops the backend, flushing one final time.
func Close() error { return current().Close() }

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }
