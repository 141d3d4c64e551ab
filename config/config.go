// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config parses and validates the YAML run configuration document described in
// spec.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/llm-load-test/internal/errs"
)

// LoadType selects closed-loop (concurrency) vs open-loop (rate) dispatch, spec.md §4.4.
type LoadType string

const (
	LoadConcurrency LoadType = "concurrency"
	LoadRate        LoadType = "rate"
)

// Plugin selects the protocol adapter, spec.md §6.
type Plugin string

const (
	PluginOpenAI          Plugin = "openai"
	PluginCaikit          Plugin = "caikit"
	PluginCaikitEmbedding Plugin = "caikit_embedding"
	PluginTGISGRPC        Plugin = "tgis_grpc"
	PluginHFTGI           Plugin = "hf_tgi"
	PluginDummy           Plugin = "dummy"
)

// API selects legacy-completion vs chat-completion request shape for adapters that
// support both (spec.md §4.2 "Request shape normalization").
type API string

const (
	APILegacy API = "legacy"
	APIChat   API = "chat"
)

// IntOrList decodes either a scalar concurrency or a list of them (sweep mode, spec.md
// §4.4 "Sweeps").
type IntOrList []int

func (l *IntOrList) UnmarshalYAML(value *yaml.Node) error {
	var single int
	if err := value.Decode(&single); err == nil {
		*l = IntOrList{single}
		return nil
	}
	var many []int
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("concurrency: %w", err)
	}
	*l = IntOrList(many)
	return nil
}

// LoadOptions is the `load_options` section of spec.md §6.
type LoadOptions struct {
	Type        LoadType  `yaml:"type"`
	Concurrency IntOrList `yaml:"concurrency"`
	RPS         float64   `yaml:"rps"`
	Duration    float64   `yaml:"duration"` // seconds
}

// Dataset is the `dataset` section of spec.md §6.
type Dataset struct {
	File               string `yaml:"file"`
	MaxQueries         int64  `yaml:"max_queries"`
	MinInputTokens     int64  `yaml:"min_input_tokens"`
	MaxInputTokens     int64  `yaml:"max_input_tokens"`
	MinOutputTokens    int64  `yaml:"min_output_tokens"`
	MaxOutputTokens    int64  `yaml:"max_output_tokens"`
	MaxSequenceTokens  int64  `yaml:"max_sequence_tokens"`
	CustomPromptFormat string `yaml:"custom_prompt_format"`
}

// Transport selects HTTP vs gRPC wire transport for adapters that support both
// (SPEC_FULL.md §4.2 adapters/caikit).
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
)

// CaikitOperation selects which Caikit task a request performs (SPEC_FULL.md §4.2):
// text generation is streamable, the rest are always unary.
type CaikitOperation string

const (
	CaikitTextGeneration      CaikitOperation = "text_generation"
	CaikitEmbedding           CaikitOperation = "embedding"
	CaikitSentenceSimilarity  CaikitOperation = "sentence_similarity"
	CaikitRerank              CaikitOperation = "rerank"
)

// PluginOptions is the `plugin_options` section of spec.md §6; common keys across
// adapters, plus authentication/transport per spec.md §4.2.
type PluginOptions struct {
	Host          string          `yaml:"host"`
	Port          int             `yaml:"port"`
	Endpoint      string          `yaml:"endpoint"`
	ModelName     string          `yaml:"model_name"`
	Streaming     bool            `yaml:"streaming"`
	API           API             `yaml:"api"`
	Authorization string          `yaml:"authorization"`
	UseTLS        bool            `yaml:"use_tls"`
	Transport     Transport       `yaml:"transport"`
	Operation     CaikitOperation `yaml:"operation"`
	Verbose       bool            `yaml:"verbose"`
}

// Output is the `output` section of spec.md §6. File may contain {concurrency} and
// {duration} placeholders.
type Output struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
}

// Warmup is the optional `warmup` section of spec.md §6, behavior per SPEC_FULL.md §10.
type Warmup struct {
	Requests   int     `yaml:"requests"`
	TimeoutSec float64 `yaml:"timeout_sec"`
}

// Config is the full run configuration, spec.md §6.
type Config struct {
	LoadOptions   LoadOptions   `yaml:"load_options"`
	Dataset       Dataset       `yaml:"dataset"`
	Plugin        Plugin        `yaml:"plugin"`
	PluginOptions PluginOptions `yaml:"plugin_options"`
	Output        Output        `yaml:"output"`
	Warmup        *Warmup       `yaml:"warmup,omitempty"`
}

// Load reads and parses the YAML configuration at path, then validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "path", Reason: err.Error()}
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, &errs.ConfigurationError{Field: "yaml", Reason: err.Error()}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration for missing or nonsensical settings, per spec.md §7
// ConfigurationError: fatal, checked once before any worker starts.
func (c *Config) Validate() error {
	switch c.LoadOptions.Type {
	case LoadConcurrency, LoadRate:
	default:
		return &errs.ConfigurationError{Field: "load_options.type", Reason: "must be concurrency or rate"}
	}
	if len(c.LoadOptions.Concurrency) == 0 {
		return &errs.ConfigurationError{Field: "load_options.concurrency", Reason: "required"}
	}
	for _, n := range c.LoadOptions.Concurrency {
		if n <= 0 {
			return &errs.ConfigurationError{Field: "load_options.concurrency", Reason: "must be positive"}
		}
	}
	if c.LoadOptions.Type == LoadRate && c.LoadOptions.RPS <= 0 {
		return &errs.ConfigurationError{Field: "load_options.rps", Reason: "required and must be positive for rate mode"}
	}
	if c.LoadOptions.Duration <= 0 {
		return &errs.ConfigurationError{Field: "load_options.duration", Reason: "must be positive"}
	}
	if c.Dataset.File == "" {
		return &errs.ConfigurationError{Field: "dataset.file", Reason: "required"}
	}
	switch c.Plugin {
	case PluginOpenAI, PluginCaikit, PluginCaikitEmbedding, PluginTGISGRPC, PluginHFTGI, PluginDummy:
	default:
		return &errs.ConfigurationError{Field: "plugin", Reason: fmt.Sprintf("unknown plugin %q", c.Plugin)}
	}
	if c.Plugin != PluginDummy && c.PluginOptions.Host == "" {
		return &errs.ConfigurationError{Field: "plugin_options.host", Reason: "required"}
	}
	if c.Output.Dir == "" || c.Output.File == "" {
		return &errs.ConfigurationError{Field: "output", Reason: "dir and file are required"}
	}
	if c.Warmup != nil && c.Warmup.Requests < 0 {
		return &errs.ConfigurationError{Field: "warmup.requests", Reason: "must be non-negative"}
	}
	return nil
}

// DurationValue returns LoadOptions.Duration as a time.Duration.
func (c *Config) DurationValue() time.Duration {
	return time.Duration(c.LoadOptions.Duration * float64(time.Second))
}

// WarmupTimeout returns the warmup timeout as a time.Duration, or zero if unconfigured.
func (w *Warmup) WarmupTimeout() time.Duration {
	if w == nil {
		return 0
	}
	return time.Duration(w.TimeoutSec * float64(time.Second))
}
