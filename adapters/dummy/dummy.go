// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dummy is a self-test adapter with no network dependency, backing the testable
// properties and seed scenarios of spec.md §8. It simulates a backend with configurable
// per-token latency and either returns the full response at once (unary) or dribbles it
// out token by token on a ticker (streaming), so the rest of the pipeline — client,
// scheduler, aggregator — can be exercised deterministically.
package dummy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/result"
)

func init() {
	adapter.Register(config.PluginDummy, New)
}

// Options names the settings this adapter understands. New does not decode an Options
// value: it reads them from config.PluginOptions fields reused for this purpose, Port as
// TokenLatency in milliseconds and Authorization == "fail" as Fail. Host and ModelName
// are ignored.
type Options struct {
	// TokenLatency is the simulated per-output-token delay.
	TokenLatency time.Duration
	// Fail, when true, makes every Execute return an AdapterLogicError (seed scenario
	// for error-path testing).
	Fail bool
}

// Adapter is the dummy protocol adapter.
type Adapter struct {
	streaming    bool
	tokenLatency time.Duration
	fail         bool
}

// New constructs a dummy Adapter from plugin options. Streaming is controlled by
// opts.Streaming; a non-zero opts.Port selects the simulated per-token latency in
// milliseconds, since dummy has no real host/port to bind (spec.md §4.2 dummy adapter
// "configurable synthetic latency/token count").
func New(opts config.PluginOptions) (adapter.Adapter, error) {
	lat := time.Duration(opts.Port) * time.Millisecond
	if lat == 0 {
		lat = 10 * time.Millisecond
	}
	return &Adapter{
		streaming:    opts.Streaming,
		tokenLatency: lat,
		fail:         opts.Authorization == "fail",
	}, nil
}

// Execute synthesizes a Result without any network I/O.
func (a *Adapter) Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result {
	r := result.Result{
		UserID:      userID,
		InputID:     q.InputID,
		InputTokens: q.InputTokens,
		StartTime:   time.Now(),
	}
	if a.fail {
		err := &errs.AdapterLogicError{Reason: "dummy: configured to fail"}
		r.Failed("adapter_logic_error", err.Error())
		r.EndTime = time.Now()
		return r
	}

	outputTokens := q.OutputTokens
	if outputTokens <= 0 {
		outputTokens = 8
	}

	if !a.streaming {
		select {
		case <-time.After(a.tokenLatency * time.Duration(outputTokens)):
		case <-ctx.Done():
			r.Failed("cancelled", (&errs.Cancelled{}).Error())
			r.EndTime = time.Now()
			return r
		}
		r.EndTime = time.Now()
		r.OutputText = strings.Repeat("token ", int(outputTokens))
		r.OutputTokens = outputTokens
		r.OutputTokensBeforeTimeout = outputTokens
		r.StopReason = "stop"
		r.Derive()
		return r
	}

	var chunks []result.Chunk
	ackTime := time.Now()
	ticker := time.NewTicker(a.tokenLatency)
	defer ticker.Stop()
	var i int64
	for i = 0; i < outputTokens; i++ {
		select {
		case <-ticker.C:
			chunks = append(chunks, result.Chunk{
				ReceiveTime: time.Now(),
				TokenCount:  1,
				Text:        fmt.Sprintf("tok%d ", i),
			})
		case <-ctx.Done():
			r.EndTime = time.Now()
			r.FromChunks(chunks, ackTime, deadline, 0, false)
			r.Failed("cancelled", (&errs.Cancelled{}).Error())
			return r
		}
	}
	r.EndTime = time.Now()
	r.FromChunks(chunks, ackTime, deadline, 0, false)
	r.StopReason = "stop"
	r.Derive()
	return r
}
