// Package config provides the configuration schema and loader for the
// narravox attribution engine.
//
// Configuration is read once at startup, validated, and then passed around
// read-only. A missing or incoherent required value is a hard failure: the
// run must die before any span is processed, never after a partial
// artifact exists.
package config

import "github.com/narravox/narravox/internal/attrib/score"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Provider selects the model backend implementation.
type Provider string

const (
	// ProviderOllama talks to a local Ollama server.
	ProviderOllama Provider = "ollama"

	// ProviderLlamaCpp talks to a llama.cpp server.
	ProviderLlamaCpp Provider = "llamacpp"

	// ProviderLlamaFile talks to a llamafile server.
	ProviderLlamaFile Provider = "llamafile"

	// ProviderOpenAICompat talks to any OpenAI-compatible endpoint
	// (vLLM, LM Studio, llama.cpp's OpenAI mode).
	ProviderOpenAICompat Provider = "openai-compat"
)

// IsValid reports whether p is a recognised provider.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderOllama, ProviderLlamaCpp, ProviderLlamaFile, ProviderOpenAICompat:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader]. Field defaults are documented per
// field and applied by the loader before validation.
type Config struct {
	// LowConfThreshold is the deterministic score below which a dialogue
	// span escalates to LLM arbitration. Default: 0.6.
	LowConfThreshold float64 `yaml:"low_conf_threshold"`

	// SkipThreshold is the score at or above which a span passes through
	// untouched as heuristic. Default: 0.88.
	SkipThreshold float64 `yaml:"skip_threshold"`

	// ContextRadius is how many spans on each side form a span's
	// neighborhood window. Default: 3.
	ContextRadius int `yaml:"context_radius"`

	// MaxJSONRetries is how many times an invalid model response is retried
	// with an unchanged prompt before falling back. Default: 2.
	MaxJSONRetries int `yaml:"max_json_retries"`

	// TimeoutS is the per-attempt inference timeout in seconds. Default: 30.
	TimeoutS int `yaml:"timeout_s"`

	// Model is the model identifier (e.g., "qwen2.5:7b"). Required. It is
	// embedded in every cache key, so changing models invalidates prior
	// resolutions automatically.
	Model string `yaml:"model_identifier"`

	// Provider selects the backend implementation. Default: ollama.
	Provider Provider `yaml:"provider"`

	// EndpointBaseURL overrides the provider's default local endpoint.
	EndpointBaseURL string `yaml:"endpoint_base_url"`

	// Temperature is the sampling temperature. Default: 0.2.
	Temperature float64 `yaml:"temperature"`

	// PromptVersion tags the arbitration prompt and participates in every
	// cache key. Default: "v1".
	PromptVersion string `yaml:"prompt_version"`

	// CacheRoot is the resolution cache directory. Default:
	// "narravox-cache".
	CacheRoot string `yaml:"cache_root"`

	// Concurrency bounds the span worker pool. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this
	// address (e.g., ":9143") for the duration of the run.
	MetricsAddr string `yaml:"metrics_addr"`

	// Weights optionally overrides the deterministic_v1 scoring weights.
	// Leave unset to use the built-in set.
	Weights *score.Weights `yaml:"weights"`
}
