package load

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"xmlsift/internal/metrics"
	xmlparser "xmlsift/internal/parser/xml"
	"xmlsift/internal/schema"
	"xmlsift/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Loader streams extracted records into a repository in bounded batches.
//
// Memory stays O(BatchSize): records are flattened into pooled rows as the
// extractor emits them and released after each flush. Because the extractor
// invokes the sink synchronously, a slow database naturally throttles event
// consumption instead of queueing unbounded work.
type Loader struct {
	Repo  storage.Repository
	Table storage.TableSpec
	// BatchSize is the number of rows buffered per flush. Defaults to 1024
	// when <= 0.
	BatchSize int
	Logger    Logger
}

// Stats summarizes one load run.
type Stats struct {
	Records  int64 // records received from the extractor
	Inserted int64 // rows the backend reports actually written
	Flushes  int   // number of UpsertRows calls
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		lg := log.New(io.Discard, "", 0)
		return lg.Printf
	}
	return l.Logger.Printf
}

func (l *Loader) batchSize() int {
	if l.BatchSize <= 0 {
		return 1024
	}
	return l.BatchSize
}

// Start ensures the target table exists and returns a record sink plus a
// finish function flushing the tail batch.
//
// When to use:
//   - Directly, when composing the sink with other callbacks (the HTTP job
//     runner stacks progress tracking on top).
//   - Through Run for the simple read-a-file case.
//
// Errors:
//   - finish must be called (and its error checked) even after a sink error,
//     mirroring Close semantics elsewhere; it only flushes what the sink
//     accepted.
func (l *Loader) Start(ctx context.Context, sch *schema.Element) (sink func(map[string]any) error, finish func() (Stats, error), err error) {
	if l.Repo == nil {
		return nil, nil, fmt.Errorf("load: Repo is required")
	}

	logf := l.logger()

	ddlStart := time.Now()
	if err := l.Repo.EnsureTable(ctx, l.Table); err != nil {
		return nil, nil, err
	}
	logf("stage=ddl table=%s ok duration=%s", l.Table.Name, durMS(ddlStart))

	var (
		stats   Stats
		batch   []*row
		columns = l.Table.ColumnNames()
		size    = l.batchSize()
		failed  bool
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		rows := make([][]any, len(batch))
		for i, r := range batch {
			rows[i] = r.v
		}

		flushStart := time.Now()
		n, err := l.Repo.UpsertRows(ctx, l.Table.Name, columns, rows, l.Table.ConflictColumns)
		if err != nil {
			// Do not re-pool rows an aborted flush might still reference.
			batch = nil
			return fmt.Errorf("load: flush %d rows into %s: %w", len(rows), l.Table.Name, err)
		}

		stats.Inserted += n
		stats.Flushes++
		metrics.IncCounter("xmlsift_rows_total", float64(n), metrics.Labels{"table": l.Table.Name})
		logf("stage=flush table=%s rows=%d inserted=%d duration=%s", l.Table.Name, len(rows), n, durMS(flushStart))

		for _, r := range batch {
			r.free()
		}
		batch = batch[:0]
		return nil
	}

	sink = func(rec map[string]any) error {
		r := getRow(len(columns))
		if err := flattenInto(r.v, rec, sch); err != nil {
			failed = true
			return err
		}
		batch = append(batch, r)
		stats.Records++

		if len(batch) >= size {
			if err := flush(); err != nil {
				failed = true
				return err
			}
		}
		return nil
	}

	finish = func() (Stats, error) {
		if failed {
			return stats, nil
		}
		err := flush()
		return stats, err
	}

	return sink, finish, nil
}

// Run extracts records from r and loads them all, returning aggregate stats.
//
// Errors:
//   - *xmlparser.MalformedInputError for broken input documents.
//   - The repository's error if a flush fails (the run stops at that point;
//     rows flushed earlier stay written).
func (l *Loader) Run(ctx context.Context, r io.Reader, sch *schema.Element) (Stats, error) {
	sink, finish, err := l.Start(ctx, sch)
	if err != nil {
		return Stats{}, err
	}

	runStart := time.Now()
	extractErr := xmlparser.ForEach(ctx, r, sch, sink)

	stats, flushErr := finish()
	if extractErr != nil {
		return stats, extractErr
	}
	if flushErr != nil {
		return stats, flushErr
	}

	l.logger()("stage=load table=%s records=%d inserted=%d flushes=%d ok duration=%s",
		l.Table.Name, stats.Records, stats.Inserted, stats.Flushes, durMS(runStart))
	return stats, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
