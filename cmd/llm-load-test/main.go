// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command llm-load-test drives a concurrent load test against an LLM inference backend
// and reports per-request and aggregate latency/throughput, per spec.md.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/llm-load-test/adapter"
	_ "github.com/maruel/llm-load-test/adapters/caikit"
	_ "github.com/maruel/llm-load-test/adapters/dummy"
	_ "github.com/maruel/llm-load-test/adapters/hftgi"
	_ "github.com/maruel/llm-load-test/adapters/openai"
	_ "github.com/maruel/llm-load-test/adapters/tgis"
	"github.com/maruel/llm-load-test/aggregate"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/logbus"
	"github.com/maruel/llm-load-test/output"
	"github.com/maruel/llm-load-test/result"
	"github.com/maruel/llm-load-test/scheduler"
)

func mainImpl() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := flag.String("config", "config.yaml", "path to the YAML run configuration")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("-log-level: %w", err)
	}
	sink := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	bus := logbus.New(sink, 1024)
	defer bus.Close()
	log := bus.NewLogger()
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("received signal, shutting down")
		cancel()
	}()

	for _, n := range cfg.LoadOptions.Concurrency {
		if err := runOne(ctx, cfg, n, log); err != nil {
			if ctx.Err() != nil {
				return &errs.Cancelled{}
			}
			return err
		}
	}
	return nil
}

func runOne(ctx context.Context, cfg *config.Config, concurrency int, log *slog.Logger) error {
	sel, err := dataset.Load(ctx, cfg.Dataset.File, dataset.Filter{
		MinInputTokens:  cfg.Dataset.MinInputTokens,
		MaxInputTokens:  cfg.Dataset.MaxInputTokens,
		MinOutputTokens: cfg.Dataset.MinOutputTokens,
		MaxOutputTokens: cfg.Dataset.MaxOutputTokens,
		MaxSequence:     cfg.Dataset.MaxSequenceTokens,
		MaxQueries:      cfg.Dataset.MaxQueries,
		PromptTemplate:  cfg.Dataset.CustomPromptFormat,
	}, log)
	if err != nil && err != dataset.ErrNoUsableQueries {
		return err
	}

	newAdapter := func() (adapter.Adapter, error) { return adapter.New(cfg) }
	results, err := scheduler.Run(ctx, cfg, sel, newAdapter, concurrency, log)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// Interrupted: the partial Results of this sweep point are not written.
		return &errs.Cancelled{}
	}

	summary := aggregate.Aggregate(results, cfg.DurationValue())
	report := result.Report{Config: cfg, Results: results, Summary: summary}
	name := output.FileName(cfg.Output.File, concurrency, cfg.LoadOptions.Duration)
	if err := output.Write(cfg.Output.Dir, name, report); err != nil {
		return err
	}
	log.Info("run complete", "concurrency", concurrency, "requests", summary.TotalRequests, "failures", summary.TotalFailures)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		if _, ok := err.(*errs.Cancelled); ok {
			os.Exit(130)
		}
		log.Println(err)
		os.Exit(1)
	}
}
