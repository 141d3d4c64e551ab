// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package result

// MetricStats is the eight-statistic summary for one metric, per spec.md §3.
type MetricStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	P80    float64 `json:"p80"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Summary is the aggregate report produced once at the end of a run, per spec.md §3/§4.5.
type Summary struct {
	Metrics map[string]MetricStats `json:"metrics"`

	Throughput             float64 `json:"throughput"`
	ThroughputFullDuration float64 `json:"throughput_full_duration"`
	FullDuration           float64 `json:"full_duration"`

	TotalRequests                  int64   `json:"total_requests"`
	ReqCompletedWithinTestDuration int64   `json:"req_completed_within_test_duration"`
	TotalFailures                  int64   `json:"total_failures"`
	FailureRate                    float64 `json:"failure_rate"`
}

// Report is the document written to the output file, per spec.md §4.5/§6.
type Report struct {
	Config  any      `json:"config"`
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// MetricNames lists every metric spec.md §3 requires a MetricStats entry for.
var MetricNames = []string{
	"tpot",
	"ttft",
	"itl",
	"tt_ack",
	"response_time",
	"output_tokens",
	"output_tokens_before_timeout",
	"input_tokens",
}
