// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package openai adapts OpenAI-compatible HTTP completion endpoints, legacy
// `/v1/completions` and chat `/v1/chat/completions`, unary or SSE-streamed, to the
// adapter.Adapter contract (spec.md §4.2).
//
// Grounded on provider.Base's DoRequest/DecodeError split (request JSON in, decode JSON
// out, fall back to decoding an error body on non-200) and the teacher's internal/sse
// streaming loop, generalized from genai's chat-message model to the flat prompt/response
// shape this module needs.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
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
	adapter.Register(config.PluginOpenAI, New)
}

// Adapter talks to an OpenAI-compatible server.
type Adapter struct {
	client    httpjson.Client
	url       string
	model     string
	streaming bool
	api       config.API
}

// New constructs the OpenAI-compatible adapter from plugin options.
func New(opts config.PluginOptions) (adapter.Adapter, error) {
	api := opts.API
	if api == "" {
		api = config.APIChat
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		if api == config.APILegacy {
			endpoint = "/v1/completions"
		} else {
			endpoint = "/v1/chat/completions"
		}
	}
	o := opts
	o.Endpoint = endpoint
	return &Adapter{
		client:    httpjson.Client{Client: adapter.NewHTTPClient(o), Lenient: true},
		url:       adapter.BaseURL(o),
		model:     opts.ModelName,
		streaming: opts.Streaming,
		api:       api,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type choiceDelta struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

type streamChunk struct {
	Choices []choiceDelta `json:"choices"`
	Usage   *usage        `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *apiError) String() string { return e.Error.Message }

// Execute issues one request and returns its Result. It never returns an error: every
// failure is recorded on the Result per spec.md §7.
func (a *Adapter) Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result {
	r := result.Result{
		UserID:      userID,
		InputID:     q.InputID,
		InputTokens: q.InputTokens,
	}

	req := chatRequest{Model: a.model, Stream: a.streaming, MaxTokens: int(q.OutputTokens)}
	if a.api == config.APILegacy {
		req.Prompt = q.Text
	} else {
		req.Messages = []chatMessage{{Role: "user", Content: q.Text}}
	}

	var header http.Header
	if a.streaming {
		header = http.Header{"Accept": {"text/event-stream"}}
	}

	r.StartTime = time.Now()
	resp, err := a.client.Request(ctx, http.MethodPost, a.url, header, req)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		pe := &errs.ProtocolError{Code: resp.StatusCode, Err: decodeAPIError(resp.Body)}
		r.Failed("protocol_error", pe.Error())
		r.EndTime = time.Now()
		return r
	}

	if a.streaming {
		return a.executeStream(resp.Body, r, deadline)
	}
	return a.executeUnary(resp.Body, r)
}

func decodeAPIError(body io.Reader) error {
	var ae apiError
	if err := json.NewDecoder(body).Decode(&ae); err == nil && ae.Error.Message != "" {
		return fmt.Errorf("%s", ae.Error.Message)
	}
	return fmt.Errorf("non-200 response")
}

func (a *Adapter) executeUnary(body io.Reader, r result.Result) result.Result {
	var cr chatResponse
	if err := json.NewDecoder(body).Decode(&cr); err != nil {
		r.Failed("protocol_error", (&errs.ProtocolError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	r.EndTime = time.Now()
	if len(cr.Choices) == 0 {
		r.Failed("adapter_logic_error", (&errs.AdapterLogicError{Reason: "response had no choices"}).Error())
		return r
	}
	c := cr.Choices[0]
	text := c.Message.Content
	if text == "" {
		text = c.Text
	}
	r.OutputText = text
	r.StopReason = c.FinishReason
	if cr.Usage.CompletionTokens > 0 {
		r.OutputTokens = cr.Usage.CompletionTokens
		r.OutputTokensBeforeTimeout = cr.Usage.CompletionTokens
	}
	r.Derive()
	return r
}

func (a *Adapter) executeStream(body io.Reader, r result.Result, deadline time.Time) result.Result {
	ackTime := time.Now()
	var chunks []result.Chunk
	var backendUsage int64
	var haveUsage bool
	var stopReason string

	it, finalErr := sse.Process[streamChunk](body, nil, true)
	for ev := range it {
		for _, c := range ev.Payload.Choices {
			text := c.Delta.Content
			if text == "" {
				text = c.Text
			}
			if text != "" {
				chunks = append(chunks, result.Chunk{ReceiveTime: ev.RecvAt, TokenCount: 1, Text: text})
			}
			if c.FinishReason != "" {
				stopReason = c.FinishReason
			}
		}
		if ev.Payload.Usage != nil {
			backendUsage = ev.Payload.Usage.CompletionTokens
			haveUsage = true
		}
	}
	if err := finalErr(); err != nil {
		r.Failed(errorCodeFor(err), err.Error())
	}

	r.EndTime = time.Now()
	r.FromChunks(chunks, ackTime, deadline, backendUsage, haveUsage)
	r.StopReason = stopReason
	if !r.HasError() {
		r.Derive()
	}
	return r
}

func errorCodeFor(err error) string {
	if _, ok := err.(*errs.ProtocolError); ok {
		return "protocol_error"
	}
	return "transport_error"
}
