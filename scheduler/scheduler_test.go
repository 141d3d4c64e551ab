// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/adapters/dummy"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
)

func writeDatasetFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.jsonl")
	lines := []string{
		`{"metadata":true}`,
	}
	for i := 0; i < 20; i++ {
		lines = append(lines, `{"index":`+strconv.Itoa(i)+`,"question":"hello","system_prompt":"","tok_input_length":10,"tok_output_length":5}`)
	}
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newDummyFactory() func() (adapter.Adapter, error) {
	return func() (adapter.Adapter, error) {
		return dummy.New(config.PluginOptions{Port: 1})
	}
}

func TestRunClosedLoopProducesResults(t *testing.T) {
	path := writeDatasetFile(t)
	sel, err := dataset.Load(context.Background(), path, dataset.Filter{}, nil)
	if err != nil && err != dataset.ErrNoUsableQueries {
		t.Fatal(err)
	}
	cfg := &config.Config{
		LoadOptions: config.LoadOptions{Type: config.LoadConcurrency, Duration: 0.3},
	}
	results, err := Run(context.Background(), cfg, sel, newDummyFactory(), 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("want at least one result")
	}
}

func TestRunOpenLoopProducesResults(t *testing.T) {
	path := writeDatasetFile(t)
	sel, err := dataset.Load(context.Background(), path, dataset.Filter{}, nil)
	if err != nil && err != dataset.ErrNoUsableQueries {
		t.Fatal(err)
	}
	cfg := &config.Config{
		LoadOptions: config.LoadOptions{Type: config.LoadRate, RPS: 20, Duration: 0.3},
	}
	results, err := Run(context.Background(), cfg, sel, newDummyFactory(), 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("want at least one result")
	}
	for _, r := range results {
		if r.ScheduledStartTime == nil {
			t.Fatal("want scheduled_start_time set on every open-loop result")
		}
	}
}

func TestRunWarmupAbortsOnFailure(t *testing.T) {
	path := writeDatasetFile(t)
	sel, err := dataset.Load(context.Background(), path, dataset.Filter{}, nil)
	if err != nil && err != dataset.ErrNoUsableQueries {
		t.Fatal(err)
	}
	cfg := &config.Config{
		LoadOptions: config.LoadOptions{Type: config.LoadConcurrency, Duration: 0.2},
		Warmup:      &config.Warmup{Requests: 2, TimeoutSec: 1},
	}
	failingFactory := func() (adapter.Adapter, error) {
		return dummy.New(config.PluginOptions{Authorization: "fail"})
	}
	_, err = Run(context.Background(), cfg, sel, failingFactory, 2, nil)
	if err == nil {
		t.Fatal("want warmup failure to abort the run")
	}
}
