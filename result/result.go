// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package result defines the per-request Result record produced by every protocol
// adapter, and the derivation of its latency fields.
package result

import "time"

// Result is one record for one attempted request against the backend under test.
//
// Derive must be called exactly once, after every timestamp field an adapter intends to
// set has been set, and before the Result is handed to the Aggregator. It populates the
// five derived fields; it is a no-op (leaving them unset) when ErrorCode or ErrorText is
// non-empty, per the invariant in spec.md §3.
type Result struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	InputID     string `json:"input_id"`
	InputTokens int64  `json:"input_tokens"`

	OutputText               string `json:"output_text,omitempty"`
	OutputTokens              int64  `json:"output_tokens"`
	OutputTokensBeforeTimeout int64  `json:"output_tokens_before_timeout"`

	StartTime          time.Time  `json:"start_time"`
	AckTime            *time.Time `json:"ack_time,omitempty"`
	FirstTokenTime     *time.Time `json:"first_token_time,omitempty"`
	EndTime            time.Time  `json:"end_time"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`

	StopReason string `json:"stop_reason,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	ErrorText  string `json:"error_text,omitempty"`

	// Derived, in milliseconds. Populated only when ErrorCode and ErrorText are both empty.
	ResponseTime *float64 `json:"response_time,omitempty"`
	TTAck        *float64 `json:"tt_ack,omitempty"`
	TTFT         *float64 `json:"ttft,omitempty"`
	ITL          *float64 `json:"itl,omitempty"`
	TPOT         *float64 `json:"tpot,omitempty"`
}

// Chunk is one received wire fragment of a streaming response, captured with the receive
// timestamp taken as the very first statement after the chunk read returns (spec.md §4.2
// point 4, §5 "Time capture discipline").
type Chunk struct {
	ReceiveTime time.Time
	TokenCount  int64
	Text        string
}

// Failed marks the Result as an error outcome. Derived fields are left unset.
func (r *Result) Failed(code, text string) {
	r.ErrorCode = code
	r.ErrorText = text
}

// HasError reports whether the Result carries an error outcome.
func (r *Result) HasError() bool {
	return r.ErrorCode != "" || r.ErrorText != ""
}

// Derive computes the five derived latency fields from the raw timestamps.
//
// It is a no-op when the Result carries an error. Call it exactly once, after all raw
// timestamps are final (spec.md §5: "After recording all timestamps, no further now()
// calls may be made before computing derived fields").
func (r *Result) Derive() {
	if r.HasError() {
		return
	}
	respMS := msBetween(r.StartTime, r.EndTime)
	r.ResponseTime = &respMS
	if r.AckTime != nil {
		v := msBetween(r.StartTime, *r.AckTime)
		r.TTAck = &v
	}
	if r.FirstTokenTime != nil {
		v := msBetween(r.StartTime, *r.FirstTokenTime)
		r.TTFT = &v
		if r.OutputTokens > 1 {
			itl := msBetween(*r.FirstTokenTime, r.EndTime) / float64(r.OutputTokens-1)
			r.ITL = &itl
		}
		// Per DESIGN.md Open Question O2: output_tokens == 1 omits ITL rather than dividing
		// by zero, matching the original implementation's observed behavior.
	}
	if r.OutputTokens > 0 {
		tpot := respMS / float64(r.OutputTokens)
		r.TPOT = &tpot
	}
}

func msBetween(start, end time.Time) float64 {
	return 1000 * end.Sub(start).Seconds()
}

// FromChunks sets OutputText, OutputTokens, FirstTokenTime, AckTime, and
// OutputTokensBeforeTimeout from an ordered list of received chunks, honoring spec.md
// §4.2 points 2-4 and 7. OutputTokens is backendOutputTokens when haveBackendUsage is
// true, otherwise the sum of the chunks' TokenCount (spec.md §4.2 point 6).
// OutputTokensBeforeTimeout is capped at OutputTokens.
func (r *Result) FromChunks(chunks []Chunk, ackTime time.Time, deadline time.Time, backendOutputTokens int64, haveBackendUsage bool) {
	if len(chunks) > 0 {
		r.AckTime = &ackTime
		for i := range chunks {
			if chunks[i].Text != "" {
				ft := chunks[i].ReceiveTime
				r.FirstTokenTime = &ft
				break
			}
		}
	}
	var text string
	var counted int64
	var beforeTimeout int64
	for _, c := range chunks {
		text += c.Text
		counted += c.TokenCount
		if !c.ReceiveTime.After(deadline) {
			beforeTimeout += c.TokenCount
		}
	}
	r.OutputText = text
	if haveBackendUsage {
		r.OutputTokens = backendOutputTokens
	} else {
		r.OutputTokens = counted
	}
	r.OutputTokensBeforeTimeout = beforeTimeout
	if r.OutputTokensBeforeTimeout > r.OutputTokens {
		r.OutputTokensBeforeTimeout = r.OutputTokens
	}
}
