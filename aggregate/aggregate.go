// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package aggregate implements the Aggregator (spec.md §4.5): concatenates per-client
// Result batches and computes the Summary.
//
// Quantile computation is delegated to gonum.org/v1/gonum/stat rather than hand-rolled,
// the one pack-wide numerical library available for statistics (grounded on
// taipm-go-deep-agent's go.mod).
package aggregate

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/maruel/llm-load-test/result"
)

// Aggregate concatenates results (already the union of every client's batch) and
// produces the Summary, per spec.md §4.5. configuredDuration is the test's nominal
// duration (load_options.duration), used for the target-clock throughput figure.
func Aggregate(results []result.Result, configuredDuration time.Duration) result.Summary {
	var ok []result.Result
	var failed int64
	for _, r := range results {
		if r.HasError() {
			failed++
			continue
		}
		ok = append(ok, r)
	}

	summary := result.Summary{
		Metrics:       map[string]result.MetricStats{},
		TotalRequests: int64(len(results)),
		TotalFailures: failed,
	}
	if len(results) > 0 {
		summary.FailureRate = 100 * float64(failed) / float64(len(results))
	}

	if len(ok) == 0 {
		return summary
	}

	minStart := ok[0].StartTime
	maxEnd := ok[0].EndTime
	var sumOutputFull, sumOutputWindowed int64
	for _, r := range ok {
		if r.StartTime.Before(minStart) {
			minStart = r.StartTime
		}
		if r.EndTime.After(maxEnd) {
			maxEnd = r.EndTime
		}
		sumOutputFull += r.OutputTokens
		sumOutputWindowed += r.OutputTokensBeforeTimeout
		if r.OutputTokens == r.OutputTokensBeforeTimeout {
			summary.ReqCompletedWithinTestDuration++
		}
	}

	fullDuration := maxEnd.Sub(minStart).Seconds()
	summary.FullDuration = fullDuration
	if fullDuration > 0 {
		summary.ThroughputFullDuration = float64(sumOutputFull) / fullDuration
	}
	if configuredDuration > 0 {
		summary.Throughput = float64(sumOutputWindowed) / configuredDuration.Seconds()
	}

	// ttft/itl/tt_ack/tpot are restricted to rows that finished within the window, per
	// spec.md §4.5, so truncated streams do not skew per-token timing.
	var windowed []result.Result
	for _, r := range ok {
		if r.OutputTokens == r.OutputTokensBeforeTimeout {
			windowed = append(windowed, r)
		}
	}

	summary.Metrics["response_time"] = statsOf(ok, func(r result.Result) (float64, bool) {
		if r.ResponseTime == nil {
			return 0, false
		}
		return *r.ResponseTime, true
	})
	summary.Metrics["output_tokens"] = statsOf(ok, func(r result.Result) (float64, bool) {
		return float64(r.OutputTokens), true
	})
	summary.Metrics["output_tokens_before_timeout"] = statsOf(ok, func(r result.Result) (float64, bool) {
		return float64(r.OutputTokensBeforeTimeout), true
	})
	summary.Metrics["input_tokens"] = statsOf(ok, func(r result.Result) (float64, bool) {
		return float64(r.InputTokens), true
	})
	summary.Metrics["tt_ack"] = statsOf(windowed, func(r result.Result) (float64, bool) {
		if r.TTAck == nil {
			return 0, false
		}
		return *r.TTAck, true
	})
	summary.Metrics["ttft"] = statsOf(windowed, func(r result.Result) (float64, bool) {
		if r.TTFT == nil {
			return 0, false
		}
		return *r.TTFT, true
	})
	summary.Metrics["itl"] = statsOf(windowed, func(r result.Result) (float64, bool) {
		if r.ITL == nil {
			return 0, false
		}
		return *r.ITL, true
	})
	summary.Metrics["tpot"] = statsOf(windowed, func(r result.Result) (float64, bool) {
		if r.TPOT == nil {
			return 0, false
		}
		return *r.TPOT, true
	})

	return summary
}

// statsOf extracts values via get, skipping rows where get reports false, and computes
// the eight-statistic MetricStats.
func statsOf(rows []result.Result, get func(result.Result) (float64, bool)) result.MetricStats {
	var values []float64
	for _, r := range rows {
		if v, ok := get(r); ok {
			values = append(values, v)
		}
	}
	return computeStats(values)
}

// computeStats returns the eight-statistic summary for values, using gonum's empirical
// quantile interpolation for the percentile fields. gonum.Quantile requires its input
// sorted ascending.
func computeStats(values []float64) result.MetricStats {
	if len(values) == 0 {
		return result.MetricStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return result.MetricStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Mean:   stat.Mean(sorted, nil),
		P80:    stat.Quantile(0.8, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}
