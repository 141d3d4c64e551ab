// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tgis adapts the TGIS gRPC text-generation service (streaming and unary) to
// the adapter.Adapter contract (spec.md §4.2).
//
// No `.proto` for TGIS ships in the retrieval pack and protoc is never invoked (the Go
// toolchain is out of scope for this build), so requests/responses are carried as
// google.golang.org/protobuf/types/known/structpb.Struct, a real, already-generated
// protobuf message, over a hand-invoked grpc.ClientConn.NewStream/Invoke call rather than
// a generated service client. This keeps gRPC's actual streaming mechanics, what the
// time-capture invariants in spec.md §4.2/§5 exercise, genuine. See DESIGN.md.
package tgis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/maruel/llm-load-test/adapter"
	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/result"
)

func init() {
	adapter.Register(config.PluginTGISGRPC, New)
}

const (
	serviceName        = "fmaas.GenerationService"
	unaryMethod        = "/" + serviceName + "/Generate"
	streamMethod       = "/" + serviceName + "/GenerateStream"
)

// Adapter talks to a TGIS gRPC server.
type Adapter struct {
	conn      *grpc.ClientConn
	model     string
	streaming bool
}

// New dials the TGIS gRPC server and constructs the Adapter. Dialing is lazy (gRPC
// connects on first RPC), matching the teacher's preference for cheap construction and
// late I/O.
func New(opts config.PluginOptions) (adapter.Adapter, error) {
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
	return &Adapter{conn: conn, model: opts.ModelName, streaming: opts.Streaming}, nil
}

func buildRequest(modelName string, q dataset.Query) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"model_id": modelName,
		"requests": []any{map[string]any{"text": q.Text}},
		"params": map[string]any{
			"stopping": map[string]any{"max_new_tokens": q.OutputTokens},
		},
	})
}

// Execute issues one request and returns its Result, never raising across the adapter
// boundary (spec.md §7).
func (a *Adapter) Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result {
	r := result.Result{UserID: userID, InputID: q.InputID, InputTokens: q.InputTokens}

	req, err := buildRequest(a.model, q)
	if err != nil {
		r.Failed("adapter_logic_error", (&errs.AdapterLogicError{Reason: err.Error()}).Error())
		r.StartTime, r.EndTime = time.Now(), time.Now()
		return r
	}

	if a.streaming {
		return a.executeStream(ctx, req, r, deadline)
	}
	return a.executeUnary(ctx, req, r)
}

func (a *Adapter) executeUnary(ctx context.Context, req *structpb.Struct, r result.Result) result.Result {
	resp := &structpb.Struct{}
	r.StartTime = time.Now()
	if err := a.conn.Invoke(ctx, unaryMethod, req, resp); err != nil {
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

func (a *Adapter) executeStream(ctx context.Context, req *structpb.Struct, r result.Result, deadline time.Time) result.Result {
	desc := &grpc.StreamDesc{ServerStreams: true}
	r.StartTime = time.Now()
	stream, err := a.conn.NewStream(ctx, desc, streamMethod)
	if err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	if err := stream.SendMsg(req); err != nil {
		r.Failed("transport_error", (&errs.TransportError{Err: err}).Error())
		r.EndTime = time.Now()
		return r
	}
	if err := stream.CloseSend(); err != nil {
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
	if v, ok := s.Fields["text"]; ok {
		text = v.GetStringValue()
	}
	if v, ok := s.Fields["generated_token_count"]; ok {
		tokens = int64(v.GetNumberValue())
	}
	return text, tokens
}
