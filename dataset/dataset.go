// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dataset loads a line-delimited JSON prompt file, applies token-length filters,
// and dispenses admitted records round-robin.
//
// Grounded on _examples/original_source/dataset.py: same fixed shuffle seed, same
// round-robin cursor, same "first line is metadata" convention.
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/maruel/llm-load-test/internal/errs"
)

// shuffleSeed is fixed so two loads of the same file with the same filters produce the
// same admitted sequence in the same order (spec.md §8 property 4).
const shuffleSeed = 1337

// minUsableQueries is the floor below which NoUsableQueries is raised (spec.md §4.1).
const minUsableQueries = 4

// ErrNoUsableQueries is returned by Load when fewer than four records survive filtering.
// Callers must treat this as a warning, not a fatal DatasetError (spec.md §4.1, §7).
var ErrNoUsableQueries = errors.New("dataset: fewer than four usable queries after filtering")

// Query is an immutable prompt record dispensed by Selector.Next.
type Query struct {
	InputID      string
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// rawRecord mirrors one non-metadata line of the dataset file (spec.md §4.1/§6).
type rawRecord struct {
	Index           json.Number `json:"index"`
	Question        string      `json:"question"`
	SystemPrompt    string      `json:"system_prompt"`
	TokInputLength  int64       `json:"tok_input_length"`
	TokOutputLength int64       `json:"tok_output_length"`
}

// Filter bounds admission into the Selector, per spec.md §4.1. Zero means "unconfigured".
type Filter struct {
	MinInputTokens  int64
	MaxInputTokens  int64
	MinOutputTokens int64
	MaxOutputTokens int64
	MaxSequence     int64
	MaxQueries      int64
	// PromptTemplate substitutes {prompt} and {system_prompt}; defaults to "{prompt}".
	PromptTemplate string
}

func (f Filter) admits(inputTokens, outputTokens int64) bool {
	if f.MinInputTokens != 0 && !(inputTokens > f.MinInputTokens) {
		return false
	}
	if f.MaxInputTokens != 0 && !(inputTokens < f.MaxInputTokens) {
		return false
	}
	if f.MinOutputTokens != 0 && !(outputTokens > f.MinOutputTokens) {
		return false
	}
	if f.MaxOutputTokens != 0 && !(outputTokens < f.MaxOutputTokens) {
		return false
	}
	if f.MaxSequence != 0 && !(inputTokens+outputTokens < f.MaxSequence) {
		return false
	}
	return true
}

func (f Filter) template() string {
	if f.PromptTemplate == "" {
		return "{prompt}"
	}
	return f.PromptTemplate
}

// Selector holds the admitted Query sequence and a round-robin cursor.
type Selector struct {
	mu      sync.Mutex
	queries []Query
	cursor  int
}

// Load reads path, shuffles with the fixed seed, filters per f, and returns a Selector.
//
// A malformed line or one missing a required key is logged through log and skipped
// (spec.md §4.1). Admission halts once f.MaxQueries records have been admitted. Load
// returns errs.DatasetError for I/O failures, and the ErrNoUsableQueries sentinel itself
// (non-fatal, together with the Selector) when fewer than minUsableQueries records are
// admitted.
func Load(ctx context.Context, path string, f Filter, log *slog.Logger) (*Selector, error) {
	if log == nil {
		log = slog.Default()
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, &errs.DatasetError{Path: path, Reason: err.Error()}
	}
	defer fh.Close()

	var raws []rawRecord
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			// Line 1 is metadata; skip unconditionally per spec.md §4.1/§6.
			first = false
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.WarnContext(ctx, "dataset: malformed line, skipping", "err", err)
			continue
		}
		if rec.Question == "" {
			log.WarnContext(ctx, "dataset: missing required key, skipping", "key", "question")
			continue
		}
		raws = append(raws, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, &errs.DatasetError{Path: path, Reason: err.Error()}
	}

	rand.New(rand.NewSource(shuffleSeed)).Shuffle(len(raws), func(i, j int) {
		raws[i], raws[j] = raws[j], raws[i]
	})

	tmpl := f.template()
	var admitted []Query
	for _, rec := range raws {
		if !f.admits(rec.TokInputLength, rec.TokOutputLength) {
			continue
		}
		text := strings.NewReplacer("{prompt}", rec.Question, "{system_prompt}", rec.SystemPrompt).Replace(tmpl)
		admitted = append(admitted, Query{
			InputID:      fmt.Sprintf("%s", rec.Index),
			Text:         text,
			InputTokens:  rec.TokInputLength,
			OutputTokens: rec.TokOutputLength,
		})
		if f.MaxQueries > 0 && int64(len(admitted)) >= f.MaxQueries {
			break
		}
	}

	if len(admitted) < minUsableQueries {
		log.WarnContext(ctx, "dataset: fewer than four usable queries", "count", len(admitted))
		return &Selector{queries: admitted}, ErrNoUsableQueries
	}
	return &Selector{queries: admitted}, nil
}

// Next returns the next n records in round-robin, advancing the cursor modulo size.
func (s *Selector) Next(n int) []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := len(s.queries)
	if size == 0 || n <= 0 {
		return nil
	}
	out := make([]Query, n)
	for i := 0; i < n; i++ {
		out[i] = s.queries[(s.cursor+i)%size]
	}
	s.cursor = (s.cursor + n) % size
	return out
}

// Len returns the number of admitted queries.
func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}
