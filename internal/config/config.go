// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the service.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	STT           STTConfig           `yaml:"stt"`
	Translation   TranslationConfig   `yaml:"translation"`
	Speech        SpeechConfig        `yaml:"speech"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Principal   string `yaml:"principal"`
	Environment string `yaml:"environment"`
	HTTPPort    string `yaml:"httpPort"`
	GRPCPort    string `yaml:"grpcPort"`
}

// GatewayConfig points at the collaborator endpoints (credentials, catalog,
// translate, synthesize).
type GatewayConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	BearerToken    string        `yaml:"bearerToken"`
	ServiceURL     string        `yaml:"serviceUrl"`
	TokenRefresh   time.Duration `yaml:"tokenRefresh"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// STTConfig selects and tunes the recognition adapter.
type STTConfig struct {
	Provider                  string  `yaml:"provider"` // mock, google, socket
	SampleRateHz              int     `yaml:"sampleRateHz"`
	AudioEncoding             string  `yaml:"audioEncoding"`
	InterimResults            bool    `yaml:"interimResults"`
	SmartFormatting           bool    `yaml:"smartFormatting"`
	Timestamps                bool    `yaml:"timestamps"`
	WordAlternativesThreshold float64 `yaml:"wordAlternativesThreshold"`
	FrameLogSize              int     `yaml:"frameLogSize"`

	// Per-stream guardrails. Zero disables the check.
	MaxStreamBytes    int64         `yaml:"maxStreamBytes"`
	MaxStreamDuration time.Duration `yaml:"maxStreamDuration"`
}

// TranslationConfig tunes the delta translator.
type TranslationConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
	// Fallback names the secondary provider used when the primary is
	// unavailable. Empty disables it; "genai" is supported.
	Fallback       string `yaml:"fallback"`
	FallbackModel  string `yaml:"fallbackModel"`
	FallbackAPIKey string `yaml:"fallbackApiKey"`
	Platform       string `yaml:"platform"`
}

// SpeechConfig tunes the speech trigger.
type SpeechConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`
	ErrorDismiss time.Duration `yaml:"errorDismiss"`
	Formats      []string      `yaml:"formats"`
	OutputDir    string        `yaml:"outputDir"`
	Download     bool          `yaml:"download"`
}

// CatalogConfig controls catalog normalization.
type CatalogConfig struct {
	MinModelRate         int    `yaml:"minModelRate"`
	VoiceFilter          string `yaml:"voiceFilter"`
	DecorateDescriptions bool   `yaml:"decorateDescriptions"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	TopicTranscripts  string   `yaml:"topicTranscripts"`
	TopicTranslations string   `yaml:"topicTranslations"`
	Principal         string   `yaml:"principal"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "live-translate-service",
			Principal:   "svc-live-translate",
			Environment: "prod",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
		},
		Gateway: GatewayConfig{
			BaseURL:        "http://localhost:3000",
			TokenRefresh:   50 * time.Minute,
			RequestTimeout: 10 * time.Second,
		},
		STT: STTConfig{
			Provider:                  "mock",
			SampleRateHz:              16000,
			AudioEncoding:             "LINEAR16",
			InterimResults:            true,
			SmartFormatting:           true,
			Timestamps:                true,
			WordAlternativesThreshold: 0.01,
			FrameLogSize:              500,
			MaxStreamBytes:            64 * 1024 * 1024,
			MaxStreamDuration:         30 * time.Minute,
		},
		Translation: TranslationConfig{
			Timeout:        10 * time.Second,
			MaxConcurrency: 8,
			FallbackModel:  "gemini-2.5-flash",
			Platform:       "live-translate",
		},
		Speech: SpeechConfig{
			Enabled:      true,
			Timeout:      30 * time.Second,
			ErrorDismiss: 5 * time.Second,
			Formats:      []string{"audio/mp3", "audio/ogg;codec=opus", "audio/wav"},
			OutputDir:    "",
			Download:     true,
		},
		Catalog: CatalogConfig{
			MinModelRate:         8000,
			DecorateDescriptions: true,
		},
		Kafka: KafkaConfig{
			Enabled:           false,
			TopicTranscripts:  "session.transcript",
			TopicTranslations: "session.translation",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration. Values from the YAML file named by
// CONFIG_FILE override the defaults, and environment variables override both.
// A missing or unreadable file is reported and ignored.
func Load() *Config {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	applyEnv(cfg)
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Service
	s.Name = envOrDefault("SERVICE_NAME", s.Name)
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.Environment = envOrDefault("ENV", s.Environment)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)

	g := &cfg.Gateway
	g.BaseURL = envOrDefault("GATEWAY_BASE_URL", g.BaseURL)
	g.BearerToken = envOrDefault("SPEECH_TO_TEXT_BEARER_TOKEN", g.BearerToken)
	g.ServiceURL = envOrDefault("SPEECH_TO_TEXT_URL", g.ServiceURL)
	g.TokenRefresh = envOrDefaultDuration("GATEWAY_TOKEN_REFRESH", g.TokenRefresh)
	g.RequestTimeout = envOrDefaultDuration("GATEWAY_REQUEST_TIMEOUT", g.RequestTimeout)

	st := &cfg.STT
	st.Provider = envOrDefault("STT_PROVIDER", st.Provider)
	st.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", st.SampleRateHz)
	st.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", st.AudioEncoding)
	st.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", st.InterimResults)
	st.SmartFormatting = envOrDefaultBool("STT_SMART_FORMATTING", st.SmartFormatting)
	st.Timestamps = envOrDefaultBool("STT_TIMESTAMPS", st.Timestamps)
	st.WordAlternativesThreshold = envOrDefaultFloat("STT_WORD_ALTERNATIVES_THRESHOLD", st.WordAlternativesThreshold)
	st.FrameLogSize = envOrDefaultInt("STT_FRAME_LOG_SIZE", st.FrameLogSize)
	st.MaxStreamBytes = int64(envOrDefaultInt("STT_MAX_STREAM_BYTES", int(st.MaxStreamBytes)))
	st.MaxStreamDuration = envOrDefaultDuration("STT_MAX_STREAM_DURATION", st.MaxStreamDuration)

	tr := &cfg.Translation
	tr.Timeout = envOrDefaultDuration("TRANSLATION_TIMEOUT", tr.Timeout)
	tr.MaxConcurrency = envOrDefaultInt("TRANSLATION_MAX_CONCURRENCY", tr.MaxConcurrency)
	tr.Fallback = envOrDefault("TRANSLATION_FALLBACK", tr.Fallback)
	tr.FallbackModel = envOrDefault("TRANSLATION_FALLBACK_MODEL", tr.FallbackModel)
	tr.FallbackAPIKey = envOrDefault("TRANSLATION_FALLBACK_API_KEY", tr.FallbackAPIKey)
	tr.Platform = envOrDefault("TRANSLATION_PLATFORM", tr.Platform)

	sp := &cfg.Speech
	sp.Enabled = envOrDefaultBool("SPEECH_ENABLED", sp.Enabled)
	sp.Timeout = envOrDefaultDuration("SPEECH_TIMEOUT", sp.Timeout)
	sp.ErrorDismiss = envOrDefaultDuration("SPEECH_ERROR_DISMISS", sp.ErrorDismiss)
	sp.Formats = envOrDefaultList("SPEECH_FORMATS", sp.Formats)
	sp.OutputDir = envOrDefault("SPEECH_OUTPUT_DIR", sp.OutputDir)
	sp.Download = envOrDefaultBool("SPEECH_DOWNLOAD", sp.Download)

	c := &cfg.Catalog
	c.MinModelRate = envOrDefaultInt("CATALOG_MIN_MODEL_RATE", c.MinModelRate)
	c.VoiceFilter = envOrDefault("CATALOG_VOICE_FILTER", c.VoiceFilter)
	c.DecorateDescriptions = envOrDefaultBool("CATALOG_DECORATE_DESCRIPTIONS", c.DecorateDescriptions)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicTranscripts = envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", k.TopicTranscripts)
	k.TopicTranslations = envOrDefault("KAFKA_TOPIC_TRANSLATIONS", k.TopicTranslations)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
	o.MetricsAddr = envOrDefault("METRICS_ADDR", o.MetricsAddr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList parses a comma-separated list, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
