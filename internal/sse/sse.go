// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sse decodes Server-Sent Events streams shared by the OpenAI- and
// TGI-style backends this module load-tests.
//
// Adapted from the teacher's internal/sse package: same two-phase decode (try the
// payload type, fall back to the error type), generalized to carry a receive
// timestamp per event so adapters can honor the time-capture discipline (spec.md §4.2:
// the receive timestamp must be the first statement executed after a chunk read
// returns).
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/maruel/llm-load-test/internal/errs"
)

// Event pairs a decoded SSE data payload with the instant its line was read.
type Event[T any] struct {
	Payload T
	RecvAt  time.Time
}

// Process reads Server-Sent Events from body and decodes each "data: " payload as T.
//
// If T fails to decode and er is non-nil, the same line is retried against er; a
// successful error decode stops the iterator and is returned by the second return
// value's call. lenient disables strict unknown-field rejection, for backends that add
// undocumented fields.
func Process[T any](body io.Reader, er error, lenient bool) (iter.Seq[Event[T]], func() error) {
	var finalErr error
	it := func(yield func(Event[T]) bool) {
		r := bufio.NewReader(body)
		for {
			line, err := r.ReadBytes('\n')
			recvAt := time.Now()
			trimmed := bytes.TrimSpace(line)
			if errors.Is(err, io.EOF) {
				if len(trimmed) == 0 {
					return
				}
			} else if err != nil {
				finalErr = &errs.TransportError{Err: fmt.Errorf("sse: read failed: %w", err)}
				return
			}
			if len(trimmed) == 0 {
				continue
			}
			switch {
			case bytes.HasPrefix(trimmed, dataPrefix):
				payload := trimmed[len(dataPrefix):]
				if bytes.Equal(payload, done) {
					return
				}
				var msg T
				dec := json.NewDecoder(bytes.NewReader(payload))
				if !lenient {
					dec.DisallowUnknownFields()
				}
				if decErr := dec.Decode(&msg); decErr == nil {
					if !yield(Event[T]{Payload: msg, RecvAt: recvAt}) {
						return
					}
					continue
				} else if er != nil {
					edec := json.NewDecoder(bytes.NewReader(payload))
					if !lenient {
						edec.DisallowUnknownFields()
					}
					if edec.Decode(er) == nil {
						finalErr = er
						return
					}
					finalErr = &errs.ProtocolError{Err: fmt.Errorf("sse: failed to decode %q: %w", string(payload), decErr)}
					return
				} else {
					finalErr = &errs.ProtocolError{Err: fmt.Errorf("sse: failed to decode %q: %w", string(payload), decErr)}
					return
				}
			case bytes.Equal(trimmed, keepAlive), bytes.Equal(trimmed, keepAliveHuggingFace):
				// Ignore keep-alive pings.
			case bytes.HasPrefix(trimmed, eventPrefix):
				// Ignore event-name headers; we only act on "data: " lines.
			default:
				finalErr = &errs.ProtocolError{Err: fmt.Errorf("sse: unexpected line, expected \"data: \", got %q", trimmed)}
				return
			}
		}
	}
	return it, func() error { return finalErr }
}

var (
	dataPrefix           = []byte("data: ")
	eventPrefix          = []byte("event:")
	done                 = []byte("[DONE]")
	keepAlive            = []byte(": keep-alive")
	keepAliveHuggingFace = []byte(":")
)
