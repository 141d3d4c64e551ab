// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package client implements the Virtual Client (spec.md §4.3): a long-lived worker that
// repeatedly pulls work, invokes its Protocol Adapter, and batches Results for the
// Aggregator.
//
// Grounded on the teacher's provider.BaseGen.GenStream goroutine-per-call pattern,
// generalized into a goroutine-per-client worker (see DESIGN.md Open Question O1 for why
// a goroutine, not an os.Process, satisfies spec.md §5's "isolated worker").
package client

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/result"
)

// ScheduledQuery pairs a dataset Query with its open-loop target dispatch time (spec.md
// §4.3 "Open-loop").
type ScheduledQuery struct {
	ScheduledTime time.Time
	Query         dataset.Query
}

// Virtual is one long-lived worker holding its userID and adapter, per spec.md §4.3. Its
// inbound queue is the channel passed to RunClosedLoop/RunOpenLoop, and its outbound
// batch is their return value.
type Virtual struct {
	UserID  string
	Adapter adapter.Adapter

	// Deadline bounds how long a single Execute call's streamed tokens count toward
	// "before timeout", per the Result.OutputTokensBeforeTimeout invariant (spec.md §3).
	Deadline time.Time
}

// RunClosedLoop repeatedly pulls a Query from queue and invokes the adapter until ctx is
// cancelled (the stop signal) or queue is closed, then returns the local batch. This is
// the concurrency-mode operating loop of spec.md §4.3.
//
// ctx is only polled between requests: it bounds the wait on queue, never a call to
// Execute. The deadline the Scheduler enforces via cancelling ctx (scheduler.go) is a
// soft deadline (spec.md §4.4/§5) — an in-flight request always runs to completion and
// its full Result is kept. Execute instead gets its own context, bounded solely by the
// per-request network timeout, so a hung connection cannot wedge the client forever.
func (v *Virtual) RunClosedLoop(ctx context.Context, queue <-chan dataset.Query) []result.Result {
	var batch []result.Result
	for {
		select {
		case <-ctx.Done():
			return batch
		case q, ok := <-queue:
			if !ok {
				return batch
			}
			batch = append(batch, v.execute(q, v.UserID))
		}
	}
}

// RunOpenLoop pulls (scheduled_time, query) tuples from schedule until ctx is cancelled
// or schedule is closed, recording ScheduledStartTime on each Result (spec.md §4.3
// "Open-loop"). As in RunClosedLoop, ctx only bounds the wait on schedule, never Execute
// itself.
func (v *Virtual) RunOpenLoop(ctx context.Context, schedule <-chan ScheduledQuery) []result.Result {
	var batch []result.Result
	for {
		select {
		case <-ctx.Done():
			return batch
		case sq, ok := <-schedule:
			if !ok {
				return batch
			}
			r := v.execute(sq.Query, v.UserID)
			st := sq.ScheduledTime
			r.ScheduledStartTime = &st
			batch = append(batch, r)
		}
	}
}

// execute invokes the adapter on a context bounded only by the per-request network
// timeout (spec.md §5), independent of the run's stop signal, and stamps a request ID.
func (v *Virtual) execute(q dataset.Query, userID string) result.Result {
	reqCtx, cancel := context.WithTimeout(context.Background(), adapter.DefaultRequestTimeout)
	defer cancel()
	r := v.Adapter.Execute(reqCtx, q, userID, v.Deadline)
	r.RequestID = uuid.NewString()
	return r
}
