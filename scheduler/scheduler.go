// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scheduler implements the Scheduler component (spec.md §4.4): constructs N
// Virtual Clients, drives them under closed-loop or open-loop dispatch until a deadline,
// then joins and collects their batches for the Aggregator. Sweeping over a concurrency
// list (spec.md §4.4 "Sweeps") drives one independent Run per value.
//
// Grounded on golang.org/x/sync/errgroup for spawn/join (the teacher's standard pattern
// across every provider's GenStream) and golang.org/x/time/rate for the open-loop target
// schedule, rather than a hand-rolled ticker.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/client"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/result"
)

// lowWatermarkMargin is the "+1" in spec.md §4.4's closed-loop top-up threshold
// ⌈N/2⌉ + 1.
const lowWatermarkMargin = 1

// Run executes one sub-run at a fixed concurrency N, per spec.md §4.4. It constructs N
// Virtual Clients each holding its own adapter.Adapter instance (a fresh instance per
// client, since adapters are not required to be concurrency-safe across independent
// calls with shared mutable state) and returns the concatenated batch of every client's
// Results once the deadline has passed and all clients have been joined.
func Run(ctx context.Context, cfg *config.Config, sel *dataset.Selector, newAdapter func() (adapter.Adapter, error), n int, log *slog.Logger) ([]result.Result, error) {
	if log == nil {
		log = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	duration := cfg.DurationValue()

	clients := make([]*client.Virtual, n)
	for i := 0; i < n; i++ {
		a, err := newAdapter()
		if err != nil {
			return nil, &errs.ConfigurationError{Field: "plugin_options", Reason: err.Error()}
		}
		clients[i] = &client.Virtual{UserID: userID(i), Adapter: a}
	}

	if cfg.Warmup != nil && cfg.Warmup.Requests > 0 {
		if err := runWarmup(runCtx, cfg, sel, clients[0], log); err != nil {
			return nil, err
		}
	}

	// The timed window opens once warmup has finished.
	deadline := time.Now().Add(duration)
	for _, c := range clients {
		c.Deadline = deadline
	}

	var batches [][]result.Result
	var err error
	if cfg.LoadOptions.Type == config.LoadRate {
		batches, err = runOpenLoop(runCtx, cancel, cfg, sel, clients, deadline, log)
	} else {
		batches, err = runClosedLoop(runCtx, cancel, sel, clients, n, deadline, log)
	}
	if err != nil {
		return nil, err
	}

	var out []result.Result
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

func userID(i int) string {
	return "user-" + strconv.Itoa(i)
}

// runWarmup issues cfg.Warmup.Requests serial calls through one client's adapter before
// the timed window starts, aborting the run with a ConfigurationError-class fatal error
// if any fail within cfg.Warmup.TimeoutSec (SPEC_FULL.md §10 "Warmup phase").
func runWarmup(ctx context.Context, cfg *config.Config, sel *dataset.Selector, c *client.Virtual, log *slog.Logger) error {
	timeout := cfg.Warmup.WarmupTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queries := sel.Next(cfg.Warmup.Requests)
	for _, q := range queries {
		r := c.Adapter.Execute(wctx, q, c.UserID, time.Now().Add(timeout))
		if r.HasError() {
			log.ErrorContext(ctx, "warmup request failed", "err", r.ErrorText)
			return &errs.ConfigurationError{Field: "warmup", Reason: "warmup request failed: " + r.ErrorText}
		}
	}
	log.InfoContext(ctx, "warmup complete", "requests", len(queries))
	return nil
}

// runClosedLoop implements spec.md §4.4's closed-loop dispatch: pre-load 2N queries,
// top up by N whenever depth falls below ⌈N/2⌉+1, until the deadline, then broadcast
// stop and join. Queries still in the queue at that point are left there unused.
func runClosedLoop(ctx context.Context, cancel context.CancelFunc, sel *dataset.Selector, clients []*client.Virtual, n int, deadline time.Time, log *slog.Logger) ([][]result.Result, error) {
	queue := make(chan dataset.Query, 4*n)
	for _, q := range sel.Next(2 * n) {
		queue <- q
	}

	lowWatermark := (n+1)/2 + lowWatermarkMargin

	g, gctx := errgroup.WithContext(ctx)
	batches := make([][]result.Result, n)
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			batches[i] = c.RunClosedLoop(gctx, queue)
			return nil
		})
	}

	g.Go(func() error {
		topUpTicker := time.NewTicker(20 * time.Millisecond)
		defer topUpTicker.Stop()
		deadlineTimer := time.NewTimer(time.Until(deadline))
		defer deadlineTimer.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-deadlineTimer.C:
				cancel()
				return nil
			case <-topUpTicker.C:
				if len(queue) < lowWatermark {
					for _, q := range sel.Next(n) {
						select {
						case queue <- q:
						case <-gctx.Done():
							return nil
						}
					}
				}
			}
		}
	})

	_ = g.Wait()
	log.Info("closed-loop run complete", "clients", n)
	return batches, nil
}

// runOpenLoop implements spec.md §4.4's open-loop dispatch: a configured-rps schedule of
// target timestamps fed to a shared schedule queue, drained by the same client pool.
// golang.org/x/time/rate paces the producer instead of a hand-rolled sleep/spin loop.
func runOpenLoop(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, sel *dataset.Selector, clients []*client.Virtual, deadline time.Time, log *slog.Logger) ([][]result.Result, error) {
	n := len(clients)
	schedule := make(chan client.ScheduledQuery, 4*n)

	g, gctx := errgroup.WithContext(ctx)
	batches := make([][]result.Result, n)
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			batches[i] = c.RunOpenLoop(gctx, schedule)
			return nil
		})
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.LoadOptions.RPS), 1)
	runStart := time.Now()
	var interval time.Duration
	if cfg.LoadOptions.RPS > 0 {
		interval = time.Duration(float64(time.Second) / cfg.LoadOptions.RPS)
	}
	g.Go(func() error {
		defer close(schedule)
		for seq := 0; ; seq++ {
			if time.Now().After(deadline) {
				cancel()
				return nil
			}
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			q := sel.Next(1)
			if len(q) == 0 {
				continue
			}
			// target, not the post-Wait time.Now(), is what makes the start-delay metric
			// (spec.md §4.3) meaningful: it's the timestamp the rate limiter was pacing
			// toward, independent of queue/limiter jitter actually observed dispatching it.
			target := runStart.Add(time.Duration(seq) * interval)
			select {
			case schedule <- client.ScheduledQuery{ScheduledTime: target, Query: q[0]}:
			case <-gctx.Done():
				return nil
			}
		}
	})

	_ = g.Wait()
	log.Info("open-loop run complete", "clients", n, "rps", cfg.LoadOptions.RPS)
	return batches, nil
}
