// Package playback fans synthesized audio out to the connected clients.
package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"live-translate-service/internal/service/speech"
)

// ErrNoListener is returned by Play when no client is attached and no
// archive player is configured.
var ErrNoListener = errors.New("no playback client attached")

// Clip is one synthesized response, read fully into memory.
type Clip struct {
	Generation  uint64
	ContentType string
	Filename    string
	Data        []byte
}

// Sink receives clips. Implementations must be safe for concurrent use.
type Sink interface {
	PlayClip(ctx context.Context, clip Clip) error
}

// Hub is a speech.Player that forwards each clip to every attached sink and
// to the archive player, if any.
type Hub struct {
	archive speech.Player

	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
}

// NewHub creates a hub. archive, when non-nil, receives every clip.
func NewHub(archive speech.Player) *Hub {
	return &Hub{
		archive: archive,
		sinks:   make(map[int]Sink),
	}
}

// Attach registers s and returns a function that detaches it.
func (h *Hub) Attach(s Sink) (detach func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.sinks[id] = s
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.sinks, id)
			h.mu.Unlock()
		})
	}
}

// Len returns the number of attached sinks.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Play implements speech.Player. It succeeds when the archive or at least one
// sink accepted the clip.
func (h *Hub) Play(ctx context.Context, generation uint64, audio *speech.Audio) error {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	if len(sinks) == 0 {
		if h.archive == nil {
			return ErrNoListener
		}
		return h.archive.Play(ctx, generation, audio)
	}

	data, err := io.ReadAll(audio.Body)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	clip := Clip{
		Generation:  generation,
		ContentType: audio.ContentType,
		Filename:    audio.Filename,
		Data:        data,
	}

	var errs []error
	for _, s := range sinks {
		if err := s.PlayClip(ctx, clip); err != nil {
			errs = append(errs, err)
		}
	}
	if h.archive != nil {
		if err := h.archive.Play(ctx, generation, clip.Audio()); err != nil {
			log.Warn().Err(err).Uint64("generation", generation).Msg("Failed to archive synthesized audio")
		} else if len(errs) == len(sinks) {
			return nil
		}
	}
	if len(errs) == len(sinks) {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		log.Debug().Int("failed", len(errs)).Int("sinks", len(sinks)).Msg("Some playback clients rejected audio")
	}
	return nil
}

// Audio wraps the clip data as speech.Audio.
func (c Clip) Audio() *speech.Audio {
	return &speech.Audio{
		ContentType: c.ContentType,
		Filename:    c.Filename,
		Body:        io.NopCloser(bytes.NewReader(c.Data)),
	}
}
