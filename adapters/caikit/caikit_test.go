// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package caikit

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

func TestHTTPUnaryGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generated_text":"hi there","generated_token_count":2,"stop_reason":"stop"}`))
	}))
	defer srv.Close()
	a, err := New(config.PluginOptions{Host: strings.TrimPrefix(srv.URL, "http://")})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hello", OutputTokens: 2}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputText != "hi there" || res.OutputTokens != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHTTPStreamingGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`data: {"generated_text":"hi"}` + "\n\n",
			`data: {"generated_text":" there","generated_token_count":2,"stop_reason":"stop"}` + "\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer srv.Close()
	a, err := New(config.PluginOptions{Host: strings.TrimPrefix(srv.URL, "http://"), Streaming: true})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hello", OutputTokens: 2}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputText != "hi there" {
		t.Fatalf("want concatenated text, got %q", res.OutputText)
	}
}

func TestEmbeddingTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"input_token_count":5}`))
	}))
	defer srv.Close()
	a, err := NewEmbedding(config.PluginOptions{Host: strings.TrimPrefix(srv.URL, "http://")})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hello"}
	res := a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if res.HasError() {
		t.Fatalf("unexpected error: %s", res.ErrorText)
	}
	if res.OutputTokens != 5 {
		t.Fatalf("want output_tokens 5, got %d", res.OutputTokens)
	}
	if res.ITL != nil {
		t.Fatal("want itl unset for an always-unary task")
	}
}

func TestRerankUsesTextsField(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(b)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"input_token_count":3}`))
	}))
	defer srv.Close()
	a, err := New(config.PluginOptions{Host: strings.TrimPrefix(srv.URL, "http://"), Operation: config.CaikitRerank})
	if err != nil {
		t.Fatal(err)
	}
	q := dataset.Query{InputID: "1", Text: "hello"}
	_ = a.Execute(context.Background(), q, "u1", time.Now().Add(time.Minute))
	if !strings.Contains(gotBody, `"texts"`) {
		t.Fatalf("want rerank request to use texts field, got %q", gotBody)
	}
}
