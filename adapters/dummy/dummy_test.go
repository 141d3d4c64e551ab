// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dummy

import (
	"context"
	"testing"
	"time"

	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
)

func TestUnary(t *testing.T) {
	a, err := New(config.PluginOptions{Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hi", InputTokens: 3, OutputTokens: 4}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Second))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputTokens != 4 {
		t.Fatalf("want 4 output tokens, got %d", res.OutputTokens)
	}
	if res.ResponseTime == nil {
		t.Fatal("want response_time set")
	}
}

func TestStreamingDerivesTTFTAndITL(t *testing.T) {
	a, err := New(config.PluginOptions{Port: 1, Streaming: true})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hi", InputTokens: 3, OutputTokens: 5}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Second))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.TTFT == nil {
		t.Fatal("want ttft set")
	}
	if res.ITL == nil {
		t.Fatal("want itl set for output_tokens > 1")
	}
}

func TestStreamingSingleTokenOmitsITL(t *testing.T) {
	a, err := New(config.PluginOptions{Port: 1, Streaming: true})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hi", InputTokens: 3, OutputTokens: 1}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Second))
	if res.ITL != nil {
		t.Fatal("want itl unset for output_tokens == 1")
	}
}

func TestCancellation(t *testing.T) {
	a, err := New(config.PluginOptions{Port: 50, Streaming: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := dataset.Query{InputID: "1", Text: "hi", InputTokens: 3, OutputTokens: 10}
	res := a.Execute(ctx, q, "u1", time.Now().Add(time.Second))
	if !res.HasError() || res.ErrorCode != "cancelled" {
		t.Fatalf("want cancelled error, got %+v", res)
	}
}

func TestFailModeSurfacesAdapterLogicError(t *testing.T) {
	a, err := New(config.PluginOptions{Authorization: "fail"})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hi"}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Second))
	if res.ErrorCode != "adapter_logic_error" {
		t.Fatalf("want adapter_logic_error, got %q", res.ErrorCode)
	}
}
