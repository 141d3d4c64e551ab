// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adapter

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"github.com/maruel/roundtrippers"

	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/internal"
)

// DefaultRequestTimeout is the large per-request network timeout from spec.md §5, so a
// hung connection cannot indefinitely wedge a client.
const DefaultRequestTimeout = 240 * time.Second

// NewHTTPClient builds the shared *http.Client used by every HTTP-based adapter:
// bearer-token injection, optional TLS, and a request-ID logging transport, grounded on
// base.DefaultTransport / roundtrippers usage throughout the teacher's provider clients.
func NewHTTPClient(opts config.PluginOptions) *http.Client {
	var t http.RoundTripper = &roundtrippers.RequestID{Transport: http.DefaultTransport}
	if opts.Authorization != "" {
		t = &roundtrippers.Header{
			Header:    http.Header{"Authorization": {"Bearer " + opts.Authorization}},
			Transport: t,
		}
	}
	if opts.UseTLS {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			dt = dt.Clone()
			dt.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			t = &roundtrippers.RequestID{Transport: dt}
			if opts.Authorization != "" {
				t = &roundtrippers.Header{
					Header:    http.Header{"Authorization": {"Bearer " + opts.Authorization}},
					Transport: t,
				}
			}
		}
	}
	if opts.Verbose {
		t = internal.LogTransport(t)
	}
	return &http.Client{Transport: t, Timeout: DefaultRequestTimeout}
}

// BaseURL composes the adapter's endpoint from host/port/endpoint plugin options, per
// spec.md §6 plugin_options common keys.
func BaseURL(opts config.PluginOptions) string {
	scheme := "http"
	if opts.UseTLS {
		scheme = "https"
	}
	host := opts.Host
	if opts.Port != 0 {
		host = host + ":" + strconv.Itoa(opts.Port)
	}
	return scheme + "://" + host + opts.Endpoint
}
