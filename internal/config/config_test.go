package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var envVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "GRPC_PORT", "HTTP_PORT", "LOG_LEVEL",
	"STT_PROVIDER", "STT_SAMPLE_RATE_HZ", "STT_INTERIM_RESULTS",
	"STT_WORD_ALTERNATIVES_THRESHOLD", "GATEWAY_BASE_URL", "GATEWAY_TOKEN_REFRESH",
	"TRANSLATION_TIMEOUT", "TRANSLATION_FALLBACK", "SPEECH_FORMATS",
	"SPEECH_ERROR_DISMISS", "KAFKA_BROKERS", "KAFKA_PRINCIPAL", "KAFKA_ENABLED",
	"CATALOG_MIN_MODEL_RATE", "STT_MAX_STREAM_BYTES", "STT_MAX_STREAM_DURATION",
}

func clearEnv() {
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-live-translate" {
		t.Errorf("expected default principal 'svc-live-translate', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if !cfg.STT.InterimResults || !cfg.STT.SmartFormatting || !cfg.STT.Timestamps {
		t.Errorf("expected interim results, smart formatting and timestamps on, got %+v", cfg.STT)
	}
	if cfg.STT.WordAlternativesThreshold != 0.01 {
		t.Errorf("expected word alternatives threshold 0.01, got %v", cfg.STT.WordAlternativesThreshold)
	}
	if cfg.Gateway.TokenRefresh != 50*time.Minute {
		t.Errorf("expected token refresh 50m, got %v", cfg.Gateway.TokenRefresh)
	}
	if cfg.Speech.ErrorDismiss != 5*time.Second {
		t.Errorf("expected error dismiss 5s, got %v", cfg.Speech.ErrorDismiss)
	}
	wantFormats := []string{"audio/mp3", "audio/ogg;codec=opus", "audio/wav"}
	if !reflect.DeepEqual(cfg.Speech.Formats, wantFormats) {
		t.Errorf("expected formats %v, got %v", wantFormats, cfg.Speech.Formats)
	}
	if cfg.Catalog.MinModelRate != 8000 {
		t.Errorf("expected min model rate 8000, got %d", cfg.Catalog.MinModelRate)
	}
	if cfg.Translation.Fallback != "" {
		t.Errorf("expected no fallback translator by default, got %q", cfg.Translation.Fallback)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "google")
	os.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	os.Setenv("STT_INTERIM_RESULTS", "false")
	os.Setenv("STT_WORD_ALTERNATIVES_THRESHOLD", "0.5")
	os.Setenv("TRANSLATION_TIMEOUT", "3s")
	os.Setenv("TRANSLATION_FALLBACK", "genai")
	os.Setenv("SPEECH_FORMATS", "audio/wav, audio/mp3")
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected STT provider 'google', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults {
		t.Error("expected interim results false")
	}
	if cfg.STT.WordAlternativesThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.STT.WordAlternativesThreshold)
	}
	if cfg.Translation.Timeout != 3*time.Second {
		t.Errorf("expected translation timeout 3s, got %v", cfg.Translation.Timeout)
	}
	if cfg.Translation.Fallback != "genai" {
		t.Errorf("expected fallback genai, got %s", cfg.Translation.Fallback)
	}
	if !reflect.DeepEqual(cfg.Speech.Formats, []string{"audio/wav", "audio/mp3"}) {
		t.Errorf("unexpected formats %v", cfg.Speech.Formats)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("GATEWAY_TOKEN_REFRESH", "invalid")
	os.Setenv("SPEECH_ERROR_DISMISS", "soon")
	os.Setenv("STT_WORD_ALTERNATIVES_THRESHOLD", "low")
	defer clearEnv()

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.Gateway.TokenRefresh != 50*time.Minute {
		t.Errorf("expected default token refresh on invalid input, got %v", cfg.Gateway.TokenRefresh)
	}
	if cfg.Speech.ErrorDismiss != 5*time.Second {
		t.Errorf("expected default error dismiss on invalid input, got %v", cfg.Speech.ErrorDismiss)
	}
	if cfg.STT.WordAlternativesThreshold != 0.01 {
		t.Errorf("expected default threshold on invalid input, got %v", cfg.STT.WordAlternativesThreshold)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
service:
  httpPort: "7070"
stt:
  provider: socket
translation:
  maxConcurrency: 2
catalog:
  voiceFilter: V3
kafka:
  enabled: true
  brokers: [broker:9092]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("STT_PROVIDER", "google")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.HTTPPort != "7070" {
		t.Errorf("expected http port from file, got %s", cfg.Service.HTTPPort)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected env to override file, got %s", cfg.STT.Provider)
	}
	if cfg.Translation.MaxConcurrency != 2 {
		t.Errorf("expected max concurrency 2, got %d", cfg.Translation.MaxConcurrency)
	}
	if cfg.Catalog.VoiceFilter != "V3" {
		t.Errorf("expected voice filter V3, got %q", cfg.Catalog.VoiceFilter)
	}
	if !cfg.Kafka.Enabled || !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"broker:9092"}) {
		t.Errorf("unexpected kafka config %+v", cfg.Kafka)
	}
	// Untouched sections keep defaults.
	if cfg.STT.WordAlternativesThreshold != 0.01 {
		t.Errorf("expected default threshold, got %v", cfg.STT.WordAlternativesThreshold)
	}
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	clearEnv()
	os.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	defer clearEnv()

	cfg := Load()
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port, got %s", cfg.Service.HTTPPort)
	}
}

func TestLoad_StreamLimits(t *testing.T) {
	clearEnv()
	cfg := Load()
	if cfg.STT.MaxStreamBytes != 64*1024*1024 || cfg.STT.MaxStreamDuration != 30*time.Minute {
		t.Errorf("unexpected default limits %d %v", cfg.STT.MaxStreamBytes, cfg.STT.MaxStreamDuration)
	}

	os.Setenv("STT_MAX_STREAM_BYTES", "0")
	os.Setenv("STT_MAX_STREAM_DURATION", "90s")
	defer clearEnv()

	cfg = Load()
	if cfg.STT.MaxStreamBytes != 0 {
		t.Errorf("expected byte limit disabled, got %d", cfg.STT.MaxStreamBytes)
	}
	if cfg.STT.MaxStreamDuration != 90*time.Second {
		t.Errorf("expected 90s duration limit, got %v", cfg.STT.MaxStreamDuration)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	key := "TEST_LIST_VAR"
	defer os.Unsetenv(key)

	os.Setenv(key, " , ,")
	if got := envOrDefaultList(key, []string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("expected default for blank list, got %v", got)
	}

	os.Setenv(key, "a,b")
	if got := envOrDefaultList(key, nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}
