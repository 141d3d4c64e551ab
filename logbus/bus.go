// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logbus implements the Logging Bus (spec.md §4.6): a cross-worker log-record
// funnel so every Virtual Client and Scheduler goroutine can log concurrently while only
// one goroutine ever writes to the sink.
//
// Grounded on the teacher's internal.LogTransport: there, roundtrippers.Capture funnels
// HTTP request/response records through a channel to one consuming goroutine. Bus
// generalizes that funnel from HTTP transport records to arbitrary slog.Record values
// emitted by any worker via a per-worker slog.Handler.
package logbus

import (
	"context"
	"log/slog"
)

// Bus funnels slog.Record values from any number of producer goroutines to one consuming
// goroutine, which forwards each to sink in arrival order.
type Bus struct {
	ch   chan entry
	done chan struct{}
}

type entry struct {
	ctx context.Context
	r   slog.Record
}

// New starts the Bus's consuming goroutine, forwarding every record to sink.Handle.
// bufSize bounds how many in-flight records producers may have outstanding before
// Handler.Handle blocks.
func New(sink slog.Handler, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	b := &Bus{ch: make(chan entry, bufSize), done: make(chan struct{})}
	go func() {
		defer close(b.done)
		for e := range b.ch {
			_ = sink.Handle(e.ctx, e.r)
		}
	}()
	return b
}

// NewLogger returns an *slog.Logger whose records are routed through the Bus, tagged
// with the given worker attributes (e.g. "user_id").
func (b *Bus) NewLogger(attrs ...any) *slog.Logger {
	return slog.New(&WorkerHandler{bus: b}).With(attrs...)
}

// Close stops accepting new records and waits for the consumer to drain the channel.
func (b *Bus) Close() {
	close(b.ch)
	<-b.done
}

// WorkerHandler is the per-worker slog.Handler that every Virtual Client logs through;
// it never writes directly, only enqueues onto the Bus.
type WorkerHandler struct {
	bus   *Bus
	attrs []slog.Attr
	group string
}

func (h *WorkerHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *WorkerHandler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(h.attrs...)
	}
	h.bus.ch <- entry{ctx: ctx, r: r}
	return nil
}

func (h *WorkerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &WorkerHandler{bus: h.bus, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...), group: h.group}
}

func (h *WorkerHandler) WithGroup(name string) slog.Handler {
	return &WorkerHandler{bus: h.bus, attrs: h.attrs, group: name}
}
