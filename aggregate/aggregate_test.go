// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package aggregate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/llm-load-test/result"
)

func mkResult(start time.Time, respMS float64, outputTokens, beforeTimeout int64, failed bool) result.Result {
	r := result.Result{
		StartTime:                 start,
		EndTime:                   start.Add(time.Duration(respMS) * time.Millisecond),
		OutputTokens:              outputTokens,
		OutputTokensBeforeTimeout: beforeTimeout,
	}
	if failed {
		r.Failed("transport_error", "boom")
		return r
	}
	r.Derive()
	return r
}

func TestAggregateSeparatesErrors(t *testing.T) {
	base := time.Now()
	results := []result.Result{
		mkResult(base, 100, 10, 10, false),
		mkResult(base.Add(time.Second), 200, 20, 20, false),
		mkResult(base, 0, 0, 0, true),
	}
	s := Aggregate(results, 5*time.Second)
	if s.TotalRequests != 3 {
		t.Fatalf("want 3 total, got %d", s.TotalRequests)
	}
	if s.TotalFailures != 1 {
		t.Fatalf("want 1 failure, got %d", s.TotalFailures)
	}
	want := 100.0 / 3
	if diff := s.FailureRate - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("want failure_rate ~%.2f, got %.2f", want, s.FailureRate)
	}
}

func TestAggregateThroughputFiguresUseBothClocks(t *testing.T) {
	base := time.Now()
	results := []result.Result{
		mkResult(base, 1000, 10, 8, false),
	}
	s := Aggregate(results, 2*time.Second)
	if s.Throughput != 4 { // 8 tokens / 2s
		t.Fatalf("want throughput 4, got %v", s.Throughput)
	}
	if s.ThroughputFullDuration != 10 { // 10 tokens / 1s full_duration
		t.Fatalf("want throughput_full_duration 10, got %v", s.ThroughputFullDuration)
	}
	want := result.MetricStats{Min: 1000, Max: 1000, Median: 1000, Mean: 1000, P80: 1000, P90: 1000, P95: 1000, P99: 1000}
	if diff := cmp.Diff(want, s.Metrics["response_time"]); diff != "" {
		t.Fatalf("response_time stats mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateRestrictsStreamingMetricsToWindowedRows(t *testing.T) {
	base := time.Now()
	truncated := mkResult(base, 100, 10, 5, false) // truncated: before_timeout != output_tokens
	complete := mkResult(base, 100, 10, 10, false)
	s := Aggregate([]result.Result{truncated, complete}, time.Second)
	if s.Metrics["response_time"].Max == 0 {
		t.Fatal("want response_time computed over all non-errored rows")
	}
	// tpot is restricted: only `complete` qualifies.
	if got := s.Metrics["tpot"]; got.Min == 0 && got.Max == 0 {
		t.Fatal("want tpot computed from the windowed subset")
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	s := Aggregate(nil, time.Second)
	if s.TotalRequests != 0 {
		t.Fatalf("want zero total requests, got %d", s.TotalRequests)
	}
}
