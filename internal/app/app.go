package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-translate-service/internal/config"
	"live-translate-service/internal/events"
	"live-translate-service/internal/gateway"
	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/logging"
	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/pipeline"
	"live-translate-service/internal/service/playback"
	"live-translate-service/internal/service/speech"
	"live-translate-service/internal/service/stt"
	"live-translate-service/internal/service/stt/google"
	"live-translate-service/internal/service/stt/mock"
	"live-translate-service/internal/service/stt/socket"
	"live-translate-service/internal/service/translate"
	"live-translate-service/internal/service/translate/gemini"

	"github.com/rs/zerolog"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics

	Gateway    *gateway.Client
	Tokens     *gateway.TokenSource
	Publisher  *events.Publisher
	Hub        *playback.Hub
	Controller *pipeline.Controller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Overrides replaces collaborators New would otherwise build from the
// configuration. Zero fields keep the defaults.
type Overrides struct {
	Factory   stt.Factory
	Primary   translate.Translator
	Secondary translate.Translator
	Catalog   pipeline.CatalogSource
	Publisher *events.Publisher
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, o Overrides) (*Application, error) {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	a := &Application{
		Cfg:     cfg,
		Metrics: m,
		Logger:  logging.WithComponent("application"),
	}

	client, err := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}
	a.Gateway = client
	a.Tokens = gateway.NewTokenSource(client, gateway.Credentials{
		AccessToken: cfg.Gateway.BearerToken,
		ServiceURL:  cfg.Gateway.ServiceURL,
	}, cfg.Gateway.TokenRefresh)

	factory := o.Factory
	if factory == nil {
		if factory, err = sttFactory(cfg); err != nil {
			return nil, err
		}
	}

	var primary translate.Translator = client
	if o.Primary != nil {
		primary = o.Primary
	}
	secondary := o.Secondary
	if secondary == nil && cfg.Translation.Fallback != "" {
		if secondary, err = fallbackTranslator(ctx, cfg); err != nil {
			return nil, err
		}
	}

	var catalog pipeline.CatalogSource = client
	if o.Catalog != nil {
		catalog = o.Catalog
	}

	a.Publisher = o.Publisher
	if a.Publisher == nil {
		a.Publisher = events.New(&events.Config{
			Brokers:           cfg.Kafka.Brokers,
			TopicTranscripts:  cfg.Kafka.TopicTranscripts,
			TopicTranslations: cfg.Kafka.TopicTranslations,
			Principal:         cfg.Kafka.Principal,
			Enabled:           cfg.Kafka.Enabled,
		}, m)
	}

	var archive speech.Player
	if cfg.Speech.OutputDir != "" {
		archive = speech.FilePlayer{Dir: cfg.Speech.OutputDir}
	}
	a.Hub = playback.NewHub(archive)

	deps := pipeline.Deps{
		Factory:   factory,
		Primary:   primary,
		Secondary: secondary,
		Catalog:   catalog,
		Tokens:    a.Tokens,
		Publisher: a.Publisher,
		Metrics:   m,
	}
	if cfg.Speech.Enabled {
		deps.Synthesizer = client
		deps.Player = a.Hub
	}

	sttOpts := stt.DefaultOptions("")
	sttOpts.SampleRateHz = cfg.STT.SampleRateHz
	sttOpts.AudioEncoding = cfg.STT.AudioEncoding
	sttOpts.InterimResults = cfg.STT.InterimResults
	sttOpts.SmartFormatting = cfg.STT.SmartFormatting
	sttOpts.Timestamps = cfg.STT.Timestamps
	sttOpts.WordAlternativesThreshold = cfg.STT.WordAlternativesThreshold
	sttOpts.ServiceURL = cfg.Gateway.ServiceURL

	a.Controller = pipeline.New(pipeline.Config{
		Provider: cfg.STT.Provider,
		STT:      sttOpts,
		Catalog: models.NormalizeOptions{
			MinModelRate:         cfg.Catalog.MinModelRate,
			VoiceFilter:          cfg.Catalog.VoiceFilter,
			DecorateDescriptions: cfg.Catalog.DecorateDescriptions,
		},
		Translation: translate.Config{
			Timeout:        cfg.Translation.Timeout,
			MaxConcurrency: cfg.Translation.MaxConcurrency,
			Platform:       cfg.Translation.Platform,
		},
		Speech: speech.TriggerConfig{
			Timeout:      cfg.Speech.Timeout,
			ErrorDismiss: cfg.Speech.ErrorDismiss,
		},
		Formats:      cfg.Speech.Formats,
		Download:     cfg.Speech.Download,
		FrameLogSize: cfg.STT.FrameLogSize,
		Limits: pipeline.Limits{
			MaxAudioBytes: cfg.STT.MaxStreamBytes,
			MaxDuration:   cfg.STT.MaxStreamDuration,
		},
	}, deps)

	a.Logger = a.Logger.With().Str("sessionId", a.Controller.ID()).Logger()
	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("speech", cfg.Speech.Enabled).
		Bool("kafka", a.Publisher.Enabled()).
		Str("fallback", cfg.Translation.Fallback).
		Msg("Live translate application created")
	return a, nil
}

func sttFactory(cfg *config.Config) (stt.Factory, error) {
	switch cfg.STT.Provider {
	case "mock", "":
		return mock.Factory(0), nil
	case "google":
		gc := google.DefaultConfig()
		gc.SampleRateHz = cfg.STT.SampleRateHz
		gc.AudioEncoding = cfg.STT.AudioEncoding
		return google.Factory(gc), nil
	case "socket":
		return socket.Factory(socket.Config{
			ServiceURL:   cfg.Gateway.ServiceURL,
			SampleRateHz: cfg.STT.SampleRateHz,
		}), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}

func fallbackTranslator(ctx context.Context, cfg *config.Config) (translate.Translator, error) {
	switch cfg.Translation.Fallback {
	case "genai":
		t, err := gemini.New(ctx, cfg.Translation.FallbackAPIKey, cfg.Translation.FallbackModel)
		if err != nil {
			return nil, fmt.Errorf("fallback translator: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown translation fallback %q", cfg.Translation.Fallback)
	}
}

// Start loads the catalog and starts the credential refresh loop. A failed
// catalog load is returned but leaves the application running so it can be
// retried.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Live translate service starting")

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Tokens.Run(runCtx)
	}()

	if err := a.Controller.LoadCatalog(ctx); err != nil {
		startLogger.Error().Err(err).Msg("Catalog load failed")
		return err
	}
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Live translate service shutting down")
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.Controller.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Controller close")
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Publisher close")
	}
	a.wg.Wait()
}
