// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package openai

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

func TestUnaryChat(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],"usage":{"completion_tokens":2,"prompt_tokens":3}}`))
	}, false)
	q := dataset.Query{InputID: "1", Text: "hello", InputTokens: 3, OutputTokens: 2}
	r := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if r.HasError() {
		t.Fatalf("unexpected error: %s", r.ErrorText)
	}
	if r.OutputText != "hi there" || r.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestStreamingChat(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\n",
			`data: {"choices":[{"delta":{"content":" there"},"finish_reason":"stop"}],"usage":{"completion_tokens":2}}` + "\n\n",
			"data: [DONE]\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}, true)
	q := dataset.Query{InputID: "1", Text: "hello", InputTokens: 3, OutputTokens: 2}
	r := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if r.HasError() {
		t.Fatalf("unexpected error: %s", r.ErrorText)
	}
	if r.OutputText != "hi there" {
		t.Fatalf("want concatenated text, got %q", r.OutputText)
	}
	if r.TTFT == nil {
		t.Fatal("want ttft set")
	}
}

func TestNon200SurfacesProtocolError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}, false)
	q := dataset.Query{InputID: "1", Text: "hello"}
	r := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if r.ErrorCode != "protocol_error" {
		t.Fatalf("want protocol_error, got %q (%s)", r.ErrorCode, r.ErrorText)
	}
}
