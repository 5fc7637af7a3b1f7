package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Decoding starts from [Default], so fields absent from the file keep their
// documented defaults while explicit values — including meaningful zeros
// like `temperature: 0.0` or `max_json_retries: 0` — are honored as
// written. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every optional field at its documented
// default. The required Model field is left empty for [Validate] to catch.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued optional fields with their documented
// defaults. Only for configs assembled in code, where zero means unset; the
// file loader decodes into [Default] instead so an explicit zero in the
// file stays zero.
func ApplyDefaults(cfg *Config) {
	if cfg.LowConfThreshold == 0 {
		cfg.LowConfThreshold = 0.6
	}
	if cfg.SkipThreshold == 0 {
		cfg.SkipThreshold = 0.88
	}
	if cfg.ContextRadius == 0 {
		cfg.ContextRadius = 3
	}
	if cfg.MaxJSONRetries == 0 {
		cfg.MaxJSONRetries = 2
	}
	if cfg.TimeoutS == 0 {
		cfg.TimeoutS = 30
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = "v1"
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = "narravox-cache"
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; any error here is
// fatal to the run.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("model_identifier is required"))
	}
	if !cfg.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("provider %q is invalid; valid values: ollama, llamacpp, llamafile, openai-compat", cfg.Provider))
	}
	if cfg.Provider == ProviderOpenAICompat && cfg.EndpointBaseURL == "" {
		errs = append(errs, fmt.Errorf("endpoint_base_url is required when provider is openai-compat"))
	}
	if cfg.LowConfThreshold < 0 || cfg.LowConfThreshold > 1 {
		errs = append(errs, fmt.Errorf("low_conf_threshold %.2f is out of range [0, 1]", cfg.LowConfThreshold))
	}
	if cfg.SkipThreshold < 0 || cfg.SkipThreshold > 1 {
		errs = append(errs, fmt.Errorf("skip_threshold %.2f is out of range [0, 1]", cfg.SkipThreshold))
	}
	if cfg.SkipThreshold < cfg.LowConfThreshold {
		errs = append(errs, fmt.Errorf("skip_threshold %.2f must not be below low_conf_threshold %.2f", cfg.SkipThreshold, cfg.LowConfThreshold))
	}
	if cfg.ContextRadius < 1 {
		errs = append(errs, fmt.Errorf("context_radius %d must be at least 1", cfg.ContextRadius))
	}
	if cfg.MaxJSONRetries < 0 {
		errs = append(errs, fmt.Errorf("max_json_retries %d must not be negative", cfg.MaxJSONRetries))
	}
	if cfg.TimeoutS < 1 {
		errs = append(errs, fmt.Errorf("timeout_s %d must be at least 1", cfg.TimeoutS))
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f is out of range [0, 2]", cfg.Temperature))
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency %d must be at least 1", cfg.Concurrency))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Soft issues that deserve a warning but not a failed run.
	if cfg.Temperature > 0.4 {
		slog.Warn("temperature above 0.4 makes arbitration less repeatable", "temperature", cfg.Temperature)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
