// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package output writes the per-sweep-point Report document (spec.md §4.5/§6): the
// configuration, the per-request Result list, and the Summary, pretty-printed JSON.
package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maruel/llm-load-test/internal/errs"
	"github.com/maruel/llm-load-test/result"
)

// FileName substitutes the {concurrency} and {duration} placeholders in pattern
// (SPEC_FULL.md §10 "Per-sweep-point independent output file"). strings.Replacer is
// sufficient since there are exactly two named placeholders; no templating library
// earns its keep for that.
func FileName(pattern string, concurrency int, durationSeconds float64) string {
	r := strings.NewReplacer(
		"{concurrency}", strconv.Itoa(concurrency),
		"{duration}", strconv.FormatFloat(durationSeconds, 'g', -1, 64),
	)
	return r.Replace(pattern)
}

// Write pretty-prints report to dir/name, creating dir if needed.
func Write(dir, name string, report result.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.ConfigurationError{Field: "output.dir", Reason: err.Error()}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return &errs.ConfigurationError{Field: "output.file", Reason: err.Error()}
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
