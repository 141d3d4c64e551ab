// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package internal holds transport helpers shared by the HTTP adapters that are too
// low-level to belong in the config or adapter packages.
package internal

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/maruel/roundtrippers"
)

// LogTransport logs one line per HTTP round trip for --verbose runs: method, URL, status,
// and request/response body sizes.
//
// It never logs full bodies. A load test run drives many concurrent requests whose bodies
// carry whole prompts and streamed generations; funnelling those through slog the way a
// single-call debugging transport would turns --verbose output into noise nobody can read.
// Sizes are still useful to spot e.g. a truncated prompt or an empty response body.
func LogTransport(t http.RoundTripper) http.RoundTripper {
	ch := make(chan roundtrippers.Record, 1)
	go func() {
		for r := range ch {
			var reqLen int64
			if r.Request.GetBody != nil {
				if b, _ := r.Request.GetBody(); b != nil {
					reqLen, _ = io.Copy(io.Discard, b)
				}
			} else if b, ok := r.Request.Body.(io.ReadSeeker); ok {
				_, _ = b.Seek(0, io.SeekStart)
				reqLen, _ = io.Copy(io.Discard, b)
			}
			var status int
			var respLen int64
			if r.Response != nil {
				status = r.Response.StatusCode
				if r.Response.Body != nil {
					respLen, _ = io.Copy(io.Discard, r.Response.Body)
				}
			}
			slog.InfoContext(r.Request.Context(), "http", "method", r.Request.Method, "url", r.Request.URL.String(), "status", status, "req_bytes", reqLen, "resp_bytes", respLen)
		}
	}()
	return &roundtrippers.Capture{Transport: t, C: ch}
}
