package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"live-translate-service/internal/service/pipeline"
	"live-translate-service/internal/service/playback"
	"live-translate-service/internal/service/selection"
	"live-translate-service/internal/service/session"
)

const (
	maxBodyBytes   = 64 << 10
	catalogTimeout = 15 * time.Second
)

type handlers struct {
	ctrl *pipeline.Controller
	hub  *playback.Hub
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Category  string `json:"category,omitempty"`
	Bandwidth int    `json:"bandwidth,omitempty"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type startRequest struct {
	SampleRateHz int `json:"sampleRateHz"`
}

type audioErrorRequest struct {
	Generation uint64 `json:"generation"`
	Message    string `json:"message"`
}

func (h *handlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Catalog())
}

func (h *handlers) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
	defer cancel()
	if err := h.ctrl.LoadCatalog(ctx); err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Catalog())
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *handlers) getFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Frames())
}

func (h *handlers) startListening(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if err := h.ctrl.StartListening(r.Context(), req.SampleRateHz); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *handlers) stopListening(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StopListening(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *handlers) audioError(w http.ResponseWriter, r *http.Request) {
	var req audioErrorRequest
	if !decode(w, r, &req) {
		return
	}
	h.ctrl.ReportAudioError(req.Generation, errors.New(req.Message))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) selectModel(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ctrl.SelectModel(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *handlers) selectVoice(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ctrl.SelectVoice(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *handlers) setToggle(set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toggleRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing field \"enabled\""})
			return
		}
		set(*req.Enabled)
		writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// decodeOptional is decode that accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	var se *session.Error
	switch {
	case errors.As(err, &se):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:     se.Message,
			Kind:      se.Kind.String(),
			Category:  string(se.Category()),
			Bandwidth: se.Bandwidth,
		})
	case errors.Is(err, selection.ErrUnknownModel), errors.Is(err, selection.ErrUnknownVoice):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrNotListening), errors.Is(err, pipeline.ErrStreamLimit):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
