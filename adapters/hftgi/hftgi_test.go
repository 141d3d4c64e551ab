// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hftgi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc, streaming bool) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	a, err := New(config.PluginOptions{Host: host, Streaming: streaming})
	if err != nil {
		t.Fatal(err)
	}
	return a.(*Adapter)
}

func TestUnary(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generated_text":"hi there","details":{"generated_tokens":2}}`))
	}, false)
	q := dataset.Query{InputID: "1", Text: "hello", InputTokens: 3, OutputTokens: 2}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputText != "hi there" || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStreaming(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`data: {"token":{"text":"hi"}}` + "\n\n",
			`data: {"token":{"text":" there"}}` + "\n\n",
			`data: {"generated_text":"hi there","details":{"generated_tokens":2}}` + "\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}, true)
	q := dataset.Query{InputID: "1", Text: "hello", InputTokens: 3, OutputTokens: 2}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputText != "hi there" {
		t.Fatalf("want concatenated text, got %q", res.OutputText)
	}
	if res.OutputTokens != 2 {
		t.Fatalf("want backend-reported token count, got %d", res.OutputTokens)
	}
}
