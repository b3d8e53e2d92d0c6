// Command xmlsift streams schema-selected records out of large XML documents.
//
// Typical runs:
//
//	xmlsift -schema toys.schema.json -input catalog.xml -out records.ndjson
//	xmlsift -config pipeline.json
//	xmlsift -infer -input catalog.xml            (print a draft schema)
//	xmlsift -config pipeline.json -validate      (check config and exit)
//
// Flag values override config file values; the config file covers everything
// flags do not set.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"xmlsift/internal/config"
	"xmlsift/internal/load"
	"xmlsift/internal/metrics"
	"xmlsift/internal/metrics/datadog"
	xmlparser "xmlsift/internal/parser/xml"
	"xmlsift/internal/probe"
	"xmlsift/internal/schema"
	"xmlsift/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "xmlsift/internal/storage/all"
)

func main() {
	var (
		cfgPath           string
		schemaPath        string
		inputPath         string
		outPath           string
		recordTag         string
		metricsBackendFlg string
		infer             bool
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	flag.StringVar(&schemaPath, "schema", "", "extraction schema JSON path (overrides config)")
	flag.StringVar(&inputPath, "input", "", "XML document path (overrides config)")
	flag.StringVar(&outPath, "out", "", "NDJSON output path, \"-\" for stdout (overrides config)")
	flag.StringVar(&recordTag, "record", "", "record element name for -infer (default: guessed)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	flag.BoolVar(&infer, "infer", false, "sample the input, print a draft schema, and exit")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	var p config.Pipeline
	if cfgPath != "" {
		var err error
		if p, err = config.Load(cfgPath); err != nil {
			fatalf("%v", err)
		}
	}

	// Flags override config values.
	if inputPath != "" {
		p.Source = config.Source{Kind: "file", File: &config.FileSource{Path: inputPath}}
	}
	if schemaPath != "" {
		p.Schema = config.SchemaRef{Path: schemaPath}
	}
	if outPath != "" {
		p.Output = config.Output{Kind: "ndjson", Path: outPath}
	}

	if infer {
		if err := runInfer(p, recordTag); err != nil {
			fatalf("%v", err)
		}
		return
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid")
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid")
		return
	}

	closeMetrics := setupMetrics(metricsBackendFlg, p.Job, *verbose)
	defer closeMetrics()

	ctx := context.Background()
	start := time.Now()

	if err := run(ctx, p, *verbose); err != nil {
		log.Fatalf("%v", err)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// setupMetrics installs the selected metrics backend and returns its
// shutdown function. Selection order: flag, then METRICS_BACKEND env,
// then disabled.
func setupMetrics(backendName, jobName string, verbose bool) func() {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if jobName == "" {
		jobName = "xmlsift"
	}

	switch backendName {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: backend=%s job_name=%s tags=%v", backendName, jobName, extraTags)
		metrics.SetBackend(b)
		return func() {
			// Close() stops the periodic flush loop and performs a final
			// Flush(); this is the clean shutdown path.
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return func() {}
}

// runInfer samples the input document and prints a draft schema to stdout.
func runInfer(p config.Pipeline, recordTag string) error {
	if p.Source.File == nil || p.Source.File.Path == "" {
		return fmt.Errorf("xmlsift: -infer requires -input (or a config with a file source)")
	}

	sample, err := probe.SampleFile(p.Source.File.Path, probe.Options{})
	if err != nil {
		return err
	}
	sch, err := probe.InferSchema(sample, recordTag, probe.Options{})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sch)
}

func run(ctx context.Context, p config.Pipeline, verbose bool) error {
	sch, err := p.Schema.Resolve()
	if err != nil {
		return err
	}

	in, err := os.Open(p.Source.File.Path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	if verbose {
		log.Printf("pipeline: source=%s record=%s output=%s storage=%s table=%s",
			p.Source.File.Path, sch.RootElement, p.Output.Kind, p.Storage.Kind, p.Storage.Table)
	}

	ndjson, closeOut, err := openNDJSON(p.Output)
	if err != nil {
		return err
	}

	loadSink, finish, err := setupLoad(ctx, p, sch)
	if err != nil {
		closeOut()
		return err
	}

	start := time.Now()
	var records int64

	extractErr := xmlparser.ForEach(ctx, in, sch, func(rec map[string]any) error {
		records++
		if ndjson != nil {
			if err := ndjson.Encode(rec); err != nil {
				return fmt.Errorf("write ndjson: %w", err)
			}
		}
		if loadSink != nil {
			return loadSink(rec)
		}
		return nil
	})

	var stats load.Stats
	var finishErr error
	if finish != nil {
		stats, finishErr = finish()
	}
	if err := closeOut(); err != nil && extractErr == nil && finishErr == nil {
		return err
	}
	if extractErr != nil {
		return extractErr
	}
	if finishErr != nil {
		return finishErr
	}

	metrics.IncCounter("xmlsift_runs_total", 1, nil)
	metrics.ObserveHistogram("xmlsift_run_duration_seconds", time.Since(start).Seconds(), nil)

	log.Printf("stage=run records=%d inserted=%d flushes=%d ok duration=%s",
		records, stats.Inserted, stats.Flushes, time.Since(start).Truncate(time.Millisecond))
	return nil
}

// openNDJSON returns an encoder for the configured output, or nil when the
// output kind is "none". The returned close function flushes and closes the
// destination; it is safe to call exactly once.
func openNDJSON(out config.Output) (*json.Encoder, func() error, error) {
	if out.Kind == "" || out.Kind == "none" {
		return nil, func() error { return nil }, nil
	}

	var (
		w      io.Writer
		closer func() error
	)
	if out.Path == "" || out.Path == "-" {
		bw := bufio.NewWriter(os.Stdout)
		w, closer = bw, bw.Flush
	} else {
		f, err := os.Create(out.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("create output: %w", err)
		}
		bw := bufio.NewWriter(f)
		w = bw
		closer = func() error {
			if err := bw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
	}
	return json.NewEncoder(w), closer, nil
}

// setupLoad wires the storage sink when storage is configured. Returns nil
// functions when it is not.
func setupLoad(ctx context.Context, p config.Pipeline, sch *schema.Element) (func(map[string]any) error, func() (load.Stats, error), error) {
	if p.Storage.Kind == "" {
		return nil, nil, nil
	}

	repo, err := storage.New(ctx, storage.Config{
		Kind:    p.Storage.Kind,
		DSN:     p.Storage.DSN,
		Options: p.Storage.Options,
	})
	if err != nil {
		return nil, nil, err
	}

	l := &load.Loader{
		Repo:      repo,
		Table:     load.TableSpecFor(p.Storage.Table, sch, p.Storage.AutoCreateTable, nil),
		BatchSize: p.Runtime.BatchSize,
		Logger:    log.Default(),
	}
	sink, finish, err := l.Start(ctx, sch)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	return sink, func() (load.Stats, error) {
		defer repo.Close()
		return finish()
	}, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
