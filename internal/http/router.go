package http

import (
	"net/http"

	"live-translate-service/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if len(application.Controller.Catalog().Models) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("catalog not loaded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{
		ctrl: application.Controller,
		hub:  application.Hub,
	}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", h.getCatalog)
		r.Post("/catalog/reload", h.reloadCatalog)

		r.Get("/session", h.getSession)
		r.Get("/session/frames", h.getFrames)
		r.Post("/session/start", h.startListening)
		r.Post("/session/stop", h.stopListening)
		r.Post("/session/audio-error", h.audioError)

		r.Put("/selection/model", h.selectModel)
		r.Put("/selection/voice", h.selectVoice)

		r.Put("/translating", h.setToggle(application.Controller.SetTranslating))
		r.Put("/speaking", h.setToggle(application.Controller.SetSpeaking))
		r.Put("/speaker-labels", h.setToggle(application.Controller.SetSpeakerLabels))

		// Long-lived; kept out of the otelhttp wrapper below.
		r.Get("/audio", h.audio)
	})

	return otelhttp.NewHandler(r, "live-translate",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/v1/audio"
		}),
	)
}
