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

// ValidProviderNames lists known provider names per provider kind. Validate
// warns about names outside these lists without rejecting them; a third-party
// provider registered in main is still legitimate.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":        {"whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads and validates the YAML configuration file at path.
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
// Tests build configs from string literals through here.
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

// Validate checks that cfg is coherent. Hard errors are joined and returned
// together; degraded-but-runnable configurations, like a missing STT
// provider, only log a warning.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateProviders(&cfg.Providers)...)
	errs = append(errs, validateAudio(&cfg.Audio)...)
	errs = append(errs, validateVisit(&cfg.Visit)...)

	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; patient records will be kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	return errs
}

func validateProviders(p *ProvidersConfig) []error {
	warnUnknownProvider("llm", p.LLM.Name)
	warnUnknownProvider("stt", p.STT.Name)
	warnUnknownProvider("embeddings", p.Embeddings.Name)
	warnUnknownProvider("llm", p.LLMFallback.Name)
	warnUnknownProvider("stt", p.STTFallback.Name)

	if p.STT.Name == "" {
		slog.Warn("no STT provider configured; visit recording will be unavailable")
	}
	if p.LLM.Name == "" {
		slog.Warn("no LLM provider configured; field extraction and patient Q&A will be unavailable")
	}

	// A fallback without a primary has nothing to fall back from.
	var errs []error
	if p.LLMFallback.Name != "" && p.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback is set but providers.llm is not"))
	}
	if p.STTFallback.Name != "" && p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallback is set but providers.stt is not"))
	}
	return errs
}

func validateAudio(a *AudioConfig) []error {
	var errs []error
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", a.Channels))
	}
	if a.Command == "" && len(a.Args) > 0 {
		errs = append(errs, errors.New("audio.args is set but audio.command is empty"))
	}
	if a.SilenceStopSec < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_stop_seconds %d must not be negative", a.SilenceStopSec))
	}
	if a.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.1f must not be negative", a.SilenceThreshold))
	}
	return errs
}

func validateVisit(v *VisitConfig) []error {
	var errs []error
	if v.ExtractionTemperature < 0 || v.ExtractionTemperature > 2 {
		errs = append(errs, fmt.Errorf("visit.extraction_temperature %.2f is out of range [0, 2]", v.ExtractionTemperature))
	}
	if v.CorrectionConfidence < 0 || v.CorrectionConfidence > 1 {
		errs = append(errs, fmt.Errorf("visit.correction_confidence %.2f is out of range [0, 1]", v.CorrectionConfidence))
	}
	return errs
}

func warnUnknownProvider(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
