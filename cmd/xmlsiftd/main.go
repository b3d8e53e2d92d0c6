// Command xmlsiftd runs the extraction upload server: clients POST XML
// documents (plus an optional schema) to /extract and follow job progress
// via /jobs/{id} or the /jobs/{id}/events SSE stream.
//
// When the config carries a storage section, extracted records are loaded
// into the configured database; otherwise jobs only count records.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"xmlsift/internal/config"
	"xmlsift/internal/jobs"
	"xmlsift/internal/load"
	"xmlsift/internal/schema"
	"xmlsift/internal/server"
	"xmlsift/internal/storage"

	// register all backends with the storage factory.
	_ "xmlsift/internal/storage/all"
)

func main() {
	var (
		cfgPath string
		addr    string
	)
	flag.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config, default :8080)")
	flag.Parse()

	var p config.Pipeline
	if cfgPath != "" {
		var err error
		if p, err = config.Load(cfgPath); err != nil {
			fatalf("%v", err)
		}
	}
	if addr == "" {
		addr = p.Server.Addr
	}

	logger := log.Default()

	manager := jobs.NewManager(p.Runtime.MaxConcurrentJobs, logger)
	defer manager.Shutdown()

	srv := server.New(manager, logger)
	srv.MaxUploadBytes = p.Server.MaxUploadBytes
	srv.TmpDir = p.Server.TmpDir

	// A configured schema becomes the default for uploads without one.
	if p.Schema.Path != "" || p.Schema.Inline != nil {
		sch, err := p.Schema.Resolve()
		if err != nil {
			fatalf("%v", err)
		}
		srv.DefaultSchema = sch
	}

	if p.Storage.Kind != "" {
		srv.Extract = loadingExtract(p)
		logger.Printf("stage=init storage=%s table=%s", p.Storage.Kind, p.Storage.Table)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })

	if err := g.Wait(); err != nil {
		log.Fatalf("%v", err)
	}
}

// loadingExtract returns an ExtractFunc that batches records into the
// configured storage backend, opening a fresh repository per job so a broken
// connection cannot poison later jobs.
func loadingExtract(p config.Pipeline) server.ExtractFunc {
	return func(ctx context.Context, r io.Reader, sch *schema.Element, j *jobs.Job) error {
		repo, err := storage.New(ctx, storage.Config{
			Kind:    p.Storage.Kind,
			DSN:     p.Storage.DSN,
			Options: p.Storage.Options,
		})
		if err != nil {
			return err
		}
		defer repo.Close()

		l := &load.Loader{
			Repo:      repo,
			Table:     load.TableSpecFor(p.Storage.Table, sch, p.Storage.AutoCreateTable, nil),
			BatchSize: p.Runtime.BatchSize,
			Logger:    log.Default(),
		}

		sink, finish, err := l.Start(ctx, sch)
		if err != nil {
			return err
		}

		extractErr := server.ForEachWithProgress(ctx, r, sch, j, sink)
		stats, finishErr := finish()
		j.SetInserted(stats.Inserted)

		if extractErr != nil {
			return extractErr
		}
		return finishErr
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
