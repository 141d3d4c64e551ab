// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hftgi adapts a Hugging Face Text Generation Inference server's
// `/generate_stream` (chunked-JSON streaming) and `/generate` (unary) endpoints to the
// adapter.Adapter contract (spec.md §4.2).
//
// Grounded on the same provider.Base request/decode split as adapters/openai, with TGI's
// own wire shape (`inputs`/`parameters`/`details.generated_tokens`).
package hftgi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/maruel/httpjson"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/internal/sse"
	"github.com/maruel/llm-load-test/result"
)

func init() {
	adapter.Register(config.PluginHFTGI, New)
}

// Adapter talks to a Hugging Face TGI server.
type Adapter struct {
	client    httpjson.Client
	url       string
	streaming bool
}

// New constructs the TGI adapter from plugin options.
func New(opts config.PluginOptions) (adapter.Adapter, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		if opts.Streaming {
			endpoint = "/generate_stream"
		} else {
			endpoint = "/generate"
		}
	}
	o := opts
	o.Endpoint = endpoint
	return &Adapter{
		client:    httpjson.Client{Client: adapter.NewHTTPClient(o), Lenient: true},
		url:       adapter.BaseURL(o),
		streaming: opts.Streaming,
	}, nil
}

type tgiRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens int `json:"max_new_tokens"`
	} `json:"parameters"`
}

type tgiDetails struct {
	GeneratedTokens int64 `json:"generated_tokens"`
}

type tgiStreamChunk struct {
	Token struct {
		Text string `json:"text"`
	} `json:"token"`
	GeneratedText *string     `json:"generated_text"`
	Details       *tgiDetails `json:"details"`
}

type tgiResponse struct {
	GeneratedText string     `json:"generated_text"`
	Details       tgiDetails `json:"details"`
}

// Execute issues one request and returns its Result, never raising across the boundary
// (spec.md §7).
func (a *Adapter) Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result {
	r := result.Result{
		UserID:      userID,
		InputID:     q.InputID,
		InputTokens: q.InputTokens,
	}

	req := tgiRequest{Inputs: q.Text}
	req.Parameters.MaxNewTokens = int(q.OutputTokens)

	r.StartTime = time.Now()
	resp, err := a.client.Request(ctx, http.MethodPost, a.url, nil, req)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		pe := &errs.ProtocolError{Code: resp.StatusCode, Err: errFromBody(b)}
		r.Failed("protocol_error", pe.Error())
		r.EndTime = time.Now()
		return r
	}

	if a.streaming {
		return a.executeStream(resp.Body, r, deadline)
	}
	return a.executeUnary(resp.Body, r)
}

func errFromBody(b []byte) error {
	if len(b) == 0 {
		return io.ErrUnexpectedEOF
	}
	return &bodyError{body: string(b)}
}

type bodyError struct{ body string }

func (e *bodyError) Error() string { return e.body }

func (a *Adapter) executeUnary(body io.Reader, r result.Result) result.Result {
	var tr tgiResponse
	if err := json.NewDecoder(body).Decode(&tr); err != nil {
		r.Failed("protocol_error", (&errs.ProtocolError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	r.EndTime = time.Now()
	r.OutputText = tr.GeneratedText
	r.OutputTokens = tr.Details.GeneratedTokens
	r.OutputTokensBeforeTimeout = tr.Details.GeneratedTokens
	r.StopReason = "stop"
	r.Derive()
	return r
}

func (a *Adapter) executeStream(body io.Reader, r result.Result, deadline time.Time) result.Result {
	ackTime := time.Now()
	var chunks []result.Chunk
	var backendUsage int64
	var haveUsage bool

	it, finalErr := sse.Process[tgiStreamChunk](body, nil, true)
	for ev := range it {
		if ev.Payload.GeneratedText != nil {
			if ev.Payload.Details != nil {
				backendUsage = ev.Payload.Details.GeneratedTokens
				haveUsage = true
			}
			continue
		}
		chunks = append(chunks, result.Chunk{ReceiveTime: ev.RecvAt, TokenCount: 1, Text: ev.Payload.Token.Text})
	}
	if err := finalErr(); err != nil {
		code := "transport_error"
		if _, ok := err.(*errs.ProtocolError); ok {
			code = "protocol_error"
		}
		r.Failed(code, err.Error())
	}

	r.EndTime = time.Now()
	r.FromChunks(chunks, ackTime, deadline, backendUsage, haveUsage)
	r.StopReason = "stop"
	if !r.HasError() {
		r.Derive()
	}
	return r
}
