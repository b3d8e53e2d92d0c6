// Package jobs runs server-submitted extraction jobs with bounded
// concurrency and publishes progress snapshots to subscribers.
//
// The manager is deliberately in-memory: jobs live as long as the process.
// Durable job queues are a different system; the upload server only needs
// enough state to answer "how far along is my extraction" over HTTP/SSE.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is the lifecycle phase of a job.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Snapshot is an immutable copy of a job's externally visible state. It is
// what HTTP handlers serialize and what subscribers receive.
type Snapshot struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Records  int64  `json:"records"`
	Inserted int64  `json:"inserted"`
	Bytes    int64  `json:"bytes"` // input bytes consumed so far
	Error    string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job will never change state again.
func (s Snapshot) Terminal() bool { return s.State == StateDone || s.State == StateFailed }

// Job is a handle the run function uses to report progress. All methods are
// safe for concurrent use.
type Job struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// RunFunc performs the actual work of a job. The passed ctx is canceled when
// the manager shuts down.
type RunFunc func(ctx context.Context, j *Job) error

// Logger is the minimal logging interface used by the manager.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Manager owns all jobs and bounds how many run at once.
type Manager struct {
	sem    *semaphore.Weighted
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager creates a manager running at most maxConcurrent jobs at a time
// (defaults to 2 when <= 0).
func NewManager(maxConcurrent int, logger Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   map[string]*Job{},
	}
}

// Submit registers a new job and schedules fn to run when a slot frees up.
// It returns immediately with the queued snapshot.
func (m *Manager) Submit(fn RunFunc) Snapshot {
	j := &Job{
		snap: Snapshot{
			ID:        newID(),
			State:     StateQueued,
			CreatedAt: time.Now().UTC(),
		},
		subs: map[chan Snapshot]struct{}{},
	}

	m.mu.Lock()
	m.jobs[j.snap.ID] = j
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(j, fn)

	return j.Snapshot()
}

func (m *Manager) run(j *Job, fn RunFunc) {
	defer m.wg.Done()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		// Manager shut down while the job was still queued.
		j.finish(fmt.Errorf("jobs: canceled before start: %w", err))
		return
	}
	defer m.sem.Release(1)

	start := time.Now()
	j.update(func(s *Snapshot) {
		s.State = StateRunning
		now := time.Now().UTC()
		s.StartedAt = &now
	})
	m.logger.Printf("stage=job id=%s state=running", j.Snapshot().ID)

	err := fn(m.ctx, j)
	j.finish(err)

	snap := j.Snapshot()
	if err != nil {
		m.logger.Printf("stage=job id=%s state=failed records=%d error=%q duration=%s",
			snap.ID, snap.Records, snap.Error, time.Since(start).Truncate(time.Millisecond))
		return
	}
	m.logger.Printf("stage=job id=%s state=done records=%d inserted=%d duration=%s",
		snap.ID, snap.Records, snap.Inserted, time.Since(start).Truncate(time.Millisecond))
}

// Get returns the snapshot for a job ID.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	j := m.jobs[id]
	m.mu.Unlock()
	if j == nil {
		return Snapshot{}, false
	}
	return j.Snapshot(), true
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Subscribe returns a channel of progress snapshots for a job, starting with
// its current state, plus an unsubscribe function.
//
// Edge cases:
//   - Unknown IDs return ok=false.
//   - The channel closes after a terminal snapshot is delivered, so SSE
//     handlers can range over it.
//   - Slow consumers skip intermediate snapshots (latest-wins); only the
//     terminal snapshot is guaranteed to arrive.
func (m *Manager) Subscribe(id string) (<-chan Snapshot, func(), bool) {
	m.mu.Lock()
	j := m.jobs[id]
	m.mu.Unlock()
	if j == nil {
		return nil, nil, false
	}

	ch := make(chan Snapshot, 8)

	j.mu.Lock()
	snap := j.snap
	if snap.Terminal() {
		j.mu.Unlock()
		ch <- snap
		close(ch)
		return ch, func() {}, true
	}
	j.subs[ch] = struct{}{}
	// Send the initial snapshot under the lock: once the lock drops an
	// update may close ch, and sends must never race that close.
	ch <- snap
	j.mu.Unlock()

	unsubscribe := func() {
		j.mu.Lock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
		j.mu.Unlock()
	}
	return ch, unsubscribe, true
}

// Shutdown cancels running jobs and waits for them to finish.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

// AddRecords bumps the extracted-record counter and notifies subscribers.
func (j *Job) AddRecords(n int64) {
	j.update(func(s *Snapshot) { s.Records += n })
}

// AddBytes bumps the input-bytes-consumed counter.
func (j *Job) AddBytes(n int64) {
	j.update(func(s *Snapshot) { s.Bytes += n })
}

// SetInserted records how many rows the storage backend reports written.
func (j *Job) SetInserted(n int64) {
	j.update(func(s *Snapshot) { s.Inserted = n })
}

func (j *Job) finish(err error) {
	j.update(func(s *Snapshot) {
		now := time.Now().UTC()
		s.FinishedAt = &now
		if err != nil {
			s.State = StateFailed
			s.Error = err.Error()
			return
		}
		s.State = StateDone
	})
}

// update mutates the snapshot under the lock and fans the new value out to
// subscribers. Terminal snapshots also close and detach every subscriber.
func (j *Job) update(mutate func(*Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()

	mutate(&j.snap)
	snap := j.snap

	for ch := range j.subs {
		if !snap.Terminal() {
			select {
			case ch <- snap:
			default: // consumer is behind, drop this intermediate snapshot
			}
			continue
		}
		// Terminal snapshots must arrive: evict the oldest buffered
		// snapshot if the consumer is full, then close.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		delete(j.subs, ch)
		close(ch)
	}
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to a
		// timestamp so job submission still works.
		return fmt.Sprintf("j%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
