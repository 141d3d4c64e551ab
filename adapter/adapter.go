// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adapter defines the protocol-adapter contract (spec.md §4.2) and the
// construction registry that selects a concrete adapter from configuration.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/maruel/llm-load-test/config"
	"github.com/maruel/llm-load-test/dataset"
	"github.com/maruel/llm-load-test/result"
)

// Adapter executes one request against a backend and returns a Result.
//
// Implementations never return an error to the caller: every failure, transport,
// protocol, or logic, becomes a Result with ErrorCode/ErrorText set (spec.md §7 policy
// "adapters never raise across the client boundary").
type Adapter interface {
	Execute(ctx context.Context, q dataset.Query, userID string, deadline time.Time) result.Result
}

// Factory builds an Adapter from plugin options. Registered by each adapters/* package's
// init().
type Factory func(opts config.PluginOptions) (Adapter, error)

var registry = map[config.Plugin]Factory{}

// Register adds a Factory for a Plugin name. Called from adapters/* package init().
func Register(name config.Plugin, f Factory) {
	registry[name] = f
}

// New constructs the Adapter selected by cfg.Plugin.
func New(cfg *config.Config) (Adapter, error) {
	f, ok := registry[cfg.Plugin]
	if !ok {
		return nil, fmt.Errorf("adapter: no factory registered for plugin %q (forgot a blank import?)", cfg.Plugin)
	}
	return f(cfg.PluginOptions)
}
