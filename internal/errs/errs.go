// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package errs defines the error taxonomy shared by every package in this module.
//
// It is not meant to be used by end users.
package errs

import "fmt"

// ConfigurationError wraps a missing or nonsensical configuration setting. It is always
// fatal: the run must exit before any worker starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: field %s: %s", e.Field, e.Reason)
}

// DatasetError wraps a problem opening or reading the dataset file. It is fatal. The
// fewer-than-four-usable-queries case is not a DatasetError: it is reported as
// dataset.ErrNoUsableQueries, which callers treat as a warning.
type DatasetError struct {
	Path   string
	Reason string
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %s: %s", e.Path, e.Reason)
}

// TransportError wraps a connection, DNS, or TLS handshake failure observed by an
// adapter. It is recorded on the Result, never propagated to the caller of Execute.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps an HTTP non-2xx, gRPC non-OK, malformed chunk, or missing
// end-of-stream condition observed by an adapter.
type ProtocolError struct {
	Code int
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: code=%d: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("protocol: code=%d", e.Code)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// AdapterLogicError wraps a malformed or incomplete backend response: a key the adapter
// expected is missing. Latency fields are left unset when this occurs mid-stream.
type AdapterLogicError struct {
	Reason string
}

func (e *AdapterLogicError) Error() string { return fmt.Sprintf("adapter logic: %s", e.Reason) }

// Cancelled indicates the run was interrupted before completion. Partial results are not
// written.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "cancelled" }
