// Package main provides a command that ingests NDJSON dump files once and exits.
//
// Usage:
//
//	ingest [flags] FILE...
//	ingest -type artist [flags] - < artists.ndjson
//	ingest -reap 6h
package main

import (
	"context"
	"encoding/json/v2"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"

	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/di"
	"github.com/discsync/discsync-server/internal/di/providers"
	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/ingest"
	"github.com/discsync/discsync-server/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	entityType := fs.String("type", "", "Entity type of the input (default: derived from each file name)")
	force := fs.Bool("force", false, "Process files even if they match the last completed sync")
	strict := fs.Bool("strict", false, "Fail the run on the first malformed line")
	reap := fs.Duration("reap", 0, "Fail runs processing for longer than this duration, then exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] FILE... (use - for stdin with -type)\n", fs.Name())
		fs.PrintDefaults()
	}

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}
	files := fs.Args()
	if len(files) == 0 && *reap <= 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := di.NewContainer(cfg)
	defer func() { _ = injector.Shutdown() }()

	driver, err := di.BootstrapIngest(injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		return 1
	}
	log := do.MustInvoke[*logger.Logger](injector)

	if *reap > 0 {
		return reapStale(ctx, injector, *reap)
	}

	opts := ingest.Options{
		EntityType: domain.ParseEntityType(*entityType),
		Force:      *force,
		Strict:     *strict,
	}

	failed := 0
	for _, path := range files {
		res, err := ingestOne(ctx, driver, path, opts)
		if res != nil {
			printJSON(res)
		}
		if err != nil {
			log.Error("Ingest failed", logger.KeySource, path, logger.KeyError, err)
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func ingestOne(ctx context.Context, driver *ingest.Driver, path string, opts ingest.Options) (*ingest.Result, error) {
	if path != "-" {
		return driver.IngestFile(ctx, path, opts)
	}
	if opts.EntityType == "" {
		return nil, errors.New("-type is required when reading stdin")
	}
	meta := domain.RunMetadata{SourceRef: "stdin"}
	return driver.IngestReader(ctx, opts.EntityType, meta, os.Stdin, opts)
}

func reapStale(ctx context.Context, injector do.Injector, olderThan time.Duration) int {
	storeHandle := do.MustInvoke[*providers.StoreHandle](injector)

	runs, err := storeHandle.ReapStaleRuns(ctx, olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reap failed: %v\n", err)
		return 1
	}
	printJSON(map[string]any{"reaped": runs, "count": len(runs)})
	return 0
}

func printJSON(v any) {
	if err := json.MarshalWrite(os.Stdout, v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stdout)
}
