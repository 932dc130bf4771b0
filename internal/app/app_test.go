package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"live-translate-service/internal/config"
	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/stt/mock"
)

type stubCatalog struct {
	cat models.Catalog
	err error
}

func (s stubCatalog) Catalog(context.Context) (models.Catalog, error) {
	return s.cat, s.err
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Gateway.BaseURL = "http://127.0.0.1:1"
	return cfg
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Provider = "carrier-pigeon"

	_, err := New(context.Background(), cfg, testMetrics(), Overrides{})
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("expected unknown provider error, got %v", err)
	}
}

func TestNew_UnknownFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Translation.Fallback = "abacus"

	_, err := New(context.Background(), cfg, testMetrics(), Overrides{})
	if err == nil || !strings.Contains(err.Error(), "abacus") {
		t.Errorf("expected unknown fallback error, got %v", err)
	}
}

func TestNew_InvalidGatewayURL(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.BaseURL = "://bad"

	if _, err := New(context.Background(), cfg, testMetrics(), Overrides{}); err == nil {
		t.Error("expected error for invalid gateway url")
	}
}

func TestApplication_StartLoadsCatalog(t *testing.T) {
	cfg := testConfig()
	cat := models.Catalog{
		ModelMap: models.ModelMap{"en": {"es"}},
		Models: []models.Model{
			{Name: "en-US_BroadbandModel", Language: "en-US", Description: "US English", Rate: 16000},
			{Name: "en-US_NarrowbandModel", Language: "en-US", Description: "US English", Rate: 8000},
		},
		Voices: []models.Voice{{Name: "es-ES_LauraV3Voice", Language: "es-ES"}},
	}

	a, err := New(context.Background(), cfg, testMetrics(), Overrides{
		Factory: mock.Factory(0),
		Catalog: stubCatalog{cat: cat},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if a.StartupTime.IsZero() {
		t.Error("expected startup time to be set")
	}

	got := a.Controller.Catalog()
	// The narrowband model sits at the minimum rate and is dropped.
	if len(got.Models) != 1 || got.Models[0].Name != "en-US_BroadbandModel" {
		t.Errorf("unexpected normalized models %+v", got.Models)
	}
	if a.Publisher.Enabled() {
		t.Error("expected log-only publisher by default")
	}
}

func TestApplication_StartCatalogError(t *testing.T) {
	cfg := testConfig()
	want := errors.New("gateway down")

	a, err := New(context.Background(), cfg, testMetrics(), Overrides{
		Factory: mock.Factory(0),
		Catalog: stubCatalog{err: want},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if err := a.Start(context.Background()); !errors.Is(err, want) {
		t.Errorf("expected catalog error, got %v", err)
	}
}

func TestApplication_ShutdownIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testMetrics(), Overrides{Factory: mock.Factory(0)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a.Shutdown()
	a.Shutdown()
}
