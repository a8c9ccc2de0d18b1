package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cliniscribe/cliniscribe/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: info
database:
  postgres_dsn: "postgres://localhost/cliniscribe"
  embedding_dimensions: 1536
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: whisper
    base_url: "http://localhost:9000"
  embeddings:
    name: openai
    model: text-embedding-3-small
audio:
  device: default
  sample_rate: 16000
  channels: 1
visit:
  language: en
  extraction_temperature: 0.3
  correction_confidence: 0.7
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Database.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions = %d", cfg.Database.EmbeddingDimensions)
	}
	if cfg.Providers.STT.BaseURL != "http://localhost:9000" {
		t.Errorf("stt base_url = %q", cfg.Providers.STT.BaseURL)
	}
	if cfg.Visit.ExtractionTemperature != 0.3 {
		t.Errorf("extraction_temperature = %v", cfg.Visit.ExtractionTemperature)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  listne_addr_typo: ":9090"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/ssl/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_AudioChannelsRange(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  channels: 6
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for surround capture, got nil")
	}
	if !strings.Contains(err.Error(), "audio.channels") {
		t.Errorf("error should mention audio.channels, got: %v", err)
	}
}

func TestValidate_AudioArgsWithoutCommand(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  args: ["-D", "hw:1"]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for args without command, got nil")
	}
}

func TestValidate_NegativeSilenceStop(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  silence_stop_seconds: -10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative silence stop, got nil")
	}
	if !strings.Contains(err.Error(), "silence_stop_seconds") {
		t.Errorf("error should mention silence_stop_seconds, got: %v", err)
	}
}

func TestValidate_VisitTuningRanges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"temperature too high",
			"visit:\n  extraction_temperature: 3.5\n",
			"extraction_temperature",
		},
		{
			"confidence above one",
			"visit:\n  correction_confidence: 1.2\n",
			"correction_confidence",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_FallbackRequiresPrimary(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm_fallback:
    name: ollama
    model: llama3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback without primary, got nil")
	}
	if !strings.Contains(err.Error(), "llm_fallback") {
		t.Errorf("error should mention llm_fallback, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
audio:
  channels: 9
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined errors, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "audio.channels") {
		t.Errorf("joined error should report both failures, got: %v", err)
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	// An empty config is valid; missing providers only produce warnings.
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("config is nil")
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "server:\n  listen_addr: \":9090\"\n  log_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("loaded config = %+v", cfg.Server)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
