// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package caikit adapts Caikit NLP: text generation over HTTP (REST+SSE) or gRPC
// (unary-streaming and unary-unary), plus the always-unary embedding,
// sentence-similarity, and rerank tasks, to the adapter.Adapter contract (spec.md §4.2).
//
// Text generation is grounded on adapters/openai's HTTP request/decode split and
// adapters/tgis's structpb-over-grpc.ClientConn pattern (no Caikit `.proto` ships in the
// retrieval pack either, for the same reason documented in adapters/tgis). The embedding
// family is always a single unary HTTP POST, since Caikit never streams non-generation
// tasks.
package caikit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/maruel/httpjson"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/internal/sse"
	"github.com/maruel/llm-load-test/result"
)

func init() {
	adapter.Register(config.PluginCaikit, New)
	adapter.Register(config.PluginCaikitEmbedding, NewEmbedding)
}

// NewEmbedding constructs a Caikit adapter defaulted to the embedding task, for the
// `caikit_embedding` plugin (SPEC_FULL.md §4.2): opts.Operation may still override it to
// sentence_similarity or rerank.
func NewEmbedding(opts config.PluginOptions) (adapter.Adapter, error) {
	if opts.Operation == "" {
		opts.Operation = config.CaikitEmbedding
	}
	return New(opts)
}

const (
	textGenServiceName  = "caikit.runtime.Nlp.NlpService"
	textGenUnaryMethod  = "/" + textGenServiceName + "/TextGenerationTaskPredict"
	textGenStreamMethod = "/" + textGenServiceName + "/ServerStreamingTextGenerationTaskPredict"
)

// Adapter talks to a Caikit server, over HTTP or gRPC, for either text generation or one
// of the embedding-family tasks.
type Adapter struct {
	httpClient httpjson.Client
	url        string
	conn       *grpc.ClientConn
	transport  config.Transport
	streaming  bool
	operation  config.CaikitOperation
	modelID    string
}

// New constructs the Caikit adapter. opts.Operation selects the task; opts.Transport
// selects http (default) or grpc for text generation (embedding-family tasks are always
// HTTP, per SPEC_FULL.md §4.2).
func New(opts config.PluginOptions) (adapter.Adapter, error) {
	op := opts.Operation
	if op == "" {
		op = config.CaikitTextGeneration
	}
	transport := opts.Transport
	if transport == "" {
		transport = config.TransportHTTP
	}
	a := &Adapter{transport: transport, streaming: opts.Streaming, operation: op, modelID: opts.ModelName}

	if op != config.CaikitTextGeneration || transport == config.TransportHTTP {
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = httpEndpointFor(op)
		}
		o := opts
		o.Endpoint = endpoint
		a.httpClient = httpjson.Client{Client: adapter.NewHTTPClient(o), Lenient: true}
		a.url = adapter.BaseURL(o)
	}
	if op == config.CaikitTextGeneration && transport == config.TransportGRPC {
		addr := opts.Host
		if opts.Port != 0 {
			addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		}
		var creds credentials.TransportCredentials = insecure.NewCredentials()
		if opts.UseTLS {
			creds = credentials.NewTLS(nil)
		}
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, &errs.ConfigurationError{Field: "plugin_options.host", Reason: err.Error()}
		}
		a.conn = conn
	}
	return a, nil
}

func httpEndpointFor(op config.CaikitOperation) string {
	switch op {
	case config.CaikitEmbedding:
		return "/api/v1/task/embedding"
	case config.CaikitSentenceSimilarity:
		return "/api/v1/task/sentence-similarity"
	case config.CaikitRerank:
		return "/api/v1/task/rerank"
	default:
		return "/api/v1/task/text-generation"
	}
}

// Execute issues one request and returns its Result, never raising across the boundary
// (spec.md §7).
func (a *Adapter) Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result {
	r := result.Result{UserID: userID, InputID: q.InputID, InputTokens: q.InputTokens}

	if a.operation != config.CaikitTextGeneration {
		return a.executeEmbeddingFamily(ctx, q, r)
	}
	if a.transport == config.TransportGRPC {
		return a.executeGRPC(ctx, q, r, deadline)
	}
	return a.executeHTTP(ctx, q, r, deadline)
}

type genRequest struct {
	ModelID string `json:"model_id"`
	Inputs  string `json:"inputs"`
	Params  struct {
		MaxNewTokens int `json:"max_new_tokens"`
	} `json:"parameters"`
}

type genResponse struct {
	GeneratedText   string `json:"generated_text"`
	GeneratedTokens int64  `json:"generated_token_count"`
	StopReason      string `json:"stop_reason"`
}

func (a *Adapter) buildHTTPGenRequest(q dataset.Query) genRequest {
	req := genRequest{ModelID: a.modelID, Inputs: q.Text}
	req.Params.MaxNewTokens = int(q.OutputTokens)
	return req
}

func (a *Adapter) executeHTTP(ctx context.Context, q dataset.Query, r result.Result, deadline time.Time) result.Result {
	req := a.buildHTTPGenRequest(q)
	var header http.Header
	if a.streaming {
		header = http.Header{"Accept": {"text/event-stream"}}
	}

	r.StartTime = time.Now()
	resp, err := a.httpClient.Request(ctx, http.MethodPost, a.url, header, req)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		r.Failed("protocol_error", (&errs.ProtocolError{Code: resp.StatusCode, Err: fmt.Errorf("%s", string(b))}).Error())
		r.EndTime = time.Now()
		return r
	}

	if a.streaming {
		ackTime := time.Now()
		var chunks []result.Chunk
		it, finalErr := sse.Process[genResponse](resp.Body, nil, true)
		var backendTokens int64
		var haveUsage bool
		var stopReason string
		for ev := range it {
			if ev.Payload.GeneratedText != "" {
				chunks = append(chunks, result.Chunk{ReceiveTime: ev.RecvAt, TokenCount: 1, Text: ev.Payload.GeneratedText})
			}
			if ev.Payload.GeneratedTokens > 0 {
				backendTokens = ev.Payload.GeneratedTokens
				haveUsage = true
			}
			if ev.Payload.StopReason != "" {
				stopReason = ev.Payload.StopReason
			}
		}
		if err := finalErr(); err != nil {
			code := "transport_error"
			if _, ok := err.(*errs.ProtocolError); ok {
				code = "protocol_error"
			}
			r.Failed(code, err.Error())
		}
		r.EndTime = time.Now()
		r.FromChunks(chunks, ackTime, deadline, backendTokens, haveUsage)
		r.StopReason = stopReason
		if !r.HasError() {
			r.Derive()
		}
		return r
	}

	var gr genResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		r.Failed("protocol_error", (&errs.ProtocolError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	r.EndTime = time.Now()
	r.OutputText = gr.GeneratedText
	r.OutputTokens = gr.GeneratedTokens
	r.OutputTokensBeforeTimeout = gr.GeneratedTokens
	r.StopReason = gr.StopReason
	r.Derive()
	return r
}

func (a *Adapter) executeGRPC(ctx context.Context, q dataset.Query, r result.Result, deadline time.Time) result.Result {
	req, err := structpb.NewStruct(map[string]any{
		"model_id": a.modelID,
		"inputs":   q.Text,
		"parameters": map[string]any{
			"max_new_tokens": q.OutputTokens,
		},
	})
	if err != nil {
		r.Failed("adapter_logic_error", (&errs.AdapterLogicError{Reason: err.Error()}).Error())
		r.StartTime, r.EndTime = time.Now(), time.Now()
		return r
	}

	if !a.streaming {
		resp := &structpb.Struct{}
		r.StartTime = time.Now()
		if err := a.conn.Invoke(ctx, textGenUnaryMethod, req, resp); err != nil {
			r.Failed("protocol_error", (&errs.ProtocolError{Err: err}).Error())
			r.EndTime = time.Now()
			return r
		}
		r.EndTime = time.Now()
		text, tokens := extractGenerated(resp)
		r.OutputText = text
		r.OutputTokens = tokens
		r.OutputTokensBeforeTimeout = tokens
		r.StopReason = "stop"
		r.Derive()
		return r
	}

	desc := &grpc.StreamDesc{ServerStreams: true}
	r.StartTime = time.Now()
	stream, err := a.conn.NewStream(ctx, desc, textGenStreamMethod)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	if err := stream.SendMsg(req); err != nil || stream.CloseSend() != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	ackTime := time.Now()
	var chunks []result.Chunk
	var backendTokens int64
	var haveUsage bool
	var streamErr error
	for {
		resp := &structpb.Struct{}
		err := stream.RecvMsg(resp)
		recvAt := time.Now()
		if err != nil {
			// io.EOF is the only clean end-of-stream signal (grpc.ClientStream.RecvMsg); any
			// other error, e.g. a non-OK gRPC status, must be recorded on the Result (spec.md
			// §7).
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		text, tokens := extractGenerated(resp)
		if text != "" {
			chunks = append(chunks, result.Chunk{ReceiveTime: recvAt, TokenCount: 1, Text: text})
		}
		if tokens > 0 {
			backendTokens = tokens
			haveUsage = true
		}
	}
	r.EndTime = time.Now()
	r.FromChunks(chunks, ackTime, deadline, backendTokens, haveUsage)
	if streamErr != nil {
		r.Failed("protocol_error", (&errs.ProtocolError{Err: streamErr}).Error())
		return r
	}
	r.StopReason = "stop"
	r.Derive()
	return r
}

func extractGenerated(s *structpb.Struct) (text string, tokens int64) {
	if s == nil || s.Fields == nil {
		return "", 0
	}
	if v, ok := s.Fields["generated_text"]; ok {
		text = v.GetStringValue()
	}
	if v, ok := s.Fields["generated_token_count"]; ok {
		tokens = int64(v.GetNumberValue())
	}
	return text, tokens
}

// embeddingRequest covers the shared request shape of Caikit's embedding,
// sentence-similarity, and rerank tasks: one or more text inputs, no streaming.
type embeddingRequest struct {
	ModelID string   `json:"model_id"`
	Texts   []string `json:"texts,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type embeddingResponse struct {
	InputTokenCount int64 `json:"input_token_count"`
}

func (a *Adapter) executeEmbeddingFamily(ctx context.Context, q dataset.Query, r result.Result) result.Result {
	req := embeddingRequest{ModelID: a.modelID}
	switch a.operation {
	case config.CaikitSentenceSimilarity, config.CaikitRerank:
		req.Texts = []string{q.Text}
	default:
		req.Text = q.Text
	}

	r.StartTime = time.Now()
	resp, err := a.httpClient.Request(ctx, http.MethodPost, a.url, nil, req)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		r.Failed("protocol_error", (&errs.ProtocolError{Code: resp.StatusCode, Err: fmt.Errorf("%s", string(b))}).Error())
		r.EndTime = time.Now()
		return r
	}
	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		r.Failed("protocol_error", (&errs.ProtocolError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	r.EndTime = time.Now()
	// Embedding-family tasks have no generated text: they always complete in a single
	// round trip, so output_tokens equals input_token_count if the backend reports one,
	// otherwise falls back to 0 (no ITL/TTFT applies, per spec.md §4.2 unary-only tasks).
	r.OutputTokens = er.InputTokenCount
	r.OutputTokensBeforeTimeout = er.InputTokenCount
	r.StopReason = "stop"
	r.Derive()
	return r
}
