package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidGeneratorNames lists known generation backend names.
// Used by [Validate] to warn about unrecognised backend names.
var ValidGeneratorNames = []string{
	"openai", "openai-native", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Generator availability warnings
	validateGeneratorName(cfg.Generator.Name)
	if cfg.Generator.Name == "" {
		slog.Warn("generator.name is empty; the run subcommand will not be able to propose corrections")
	}
	if cfg.Generator.Name != "" && cfg.Generator.Model == "" {
		errs = append(errs, fmt.Errorf("generator.model is required when generator.name is set"))
	}
	for i, fb := range cfg.GeneratorFallbacks {
		validateGeneratorName(fb.Name)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("generator_fallbacks[%d].name is required", i))
		}
		if fb.Name != "" && fb.Model == "" {
			errs = append(errs, fmt.Errorf("generator_fallbacks[%d].model is required", i))
		}
	}
	if len(cfg.GeneratorFallbacks) > 0 && cfg.Generator.Name == "" {
		errs = append(errs, fmt.Errorf("generator_fallbacks require a primary generator"))
	}

	// Correct
	if cfg.Correct.KCandidates < 0 {
		errs = append(errs, fmt.Errorf("correct.k_candidates %d must not be negative", cfg.Correct.KCandidates))
	}
	if cfg.Correct.ContextLen < 0 {
		errs = append(errs, fmt.Errorf("correct.context_len %d must not be negative", cfg.Correct.ContextLen))
	}
	if cfg.Correct.Workers < 0 {
		errs = append(errs, fmt.Errorf("correct.workers %d must not be negative", cfg.Correct.Workers))
	}
	if cfg.Correct.GenerateTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("correct.generate_timeout_secs %d must not be negative", cfg.Correct.GenerateTimeoutSecs))
	}

	// Triage percentiles: all-or-nothing, strictly increasing in (0, 100).
	if cfg.Triage.PercentilesSet() {
		r, o, y := cfg.Triage.RedPercentile, cfg.Triage.OrangePercentile, cfg.Triage.YellowPercentile
		if r <= 0 || y >= 100 || !(r < o && o < y) {
			errs = append(errs, fmt.Errorf(
				"triage percentiles %.1f/%.1f/%.1f must be strictly increasing within (0, 100)", r, o, y))
		}
	}
	if cfg.Triage.Quality.MaxCompressionRatio < 0 {
		errs = append(errs, fmt.Errorf("triage.quality.max_compression_ratio %.2f must not be negative", cfg.Triage.Quality.MaxCompressionRatio))
	}
	if cfg.Triage.Quality.MinTextLength < 0 {
		errs = append(errs, fmt.Errorf("triage.quality.min_text_length %d must not be negative", cfg.Triage.Quality.MinTextLength))
	}
	if cfg.Triage.Quality.MaxNGramRepeat < 0 {
		errs = append(errs, fmt.Errorf("triage.quality.max_ngram_repeat %d must not be negative", cfg.Triage.Quality.MaxNGramRepeat))
	}

	return errors.Join(errs...)
}

// validateGeneratorName logs a warning if name is non-empty and not found in
// [ValidGeneratorNames].
func validateGeneratorName(name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidGeneratorNames, name) {
		return
	}
	slog.Warn("unknown generator name — may be a typo or third-party backend",
		"name", name,
		"known", ValidGeneratorNames,
	)
}
