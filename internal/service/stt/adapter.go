// Package stt defines the interface for Speech-to-Text adapters and the typed
// recognition messages they deliver.
package stt

import (
	"context"
	"errors"
	"time"
)

// Errors reported by adapters. The session classifies them into user-facing
// error kinds.
var (
	// ErrUnrecognizedFormat is returned when the provider cannot determine the
	// audio content type.
	ErrUnrecognizedFormat = errors.New("unrecognized audio format")
	// ErrAudioInputUnsupported is returned when no audio input can be opened.
	ErrAudioInputUnsupported = errors.New("audio input not supported")
	// ErrAudioInputLost is returned when the audio input goes away mid-stream.
	ErrAudioInputLost = errors.New("audio input lost")
)

// Options carries the recognition configuration for one stream.
type Options struct {
	Model                     string
	Language                  string
	AccessToken               string
	ServiceURL                string
	SampleRateHz              int
	AudioEncoding             string
	InterimResults            bool
	SmartFormatting           bool
	SpeakerLabels             bool
	Timestamps                bool
	WordAlternativesThreshold float64
}

// DefaultOptions returns the capability flags every stream is opened with.
func DefaultOptions(model string) Options {
	return Options{
		Model:                     model,
		InterimResults:            true,
		SmartFormatting:           true,
		Timestamps:                true,
		WordAlternativesThreshold: 0.01,
	}
}

// Frame is a low-level protocol frame kept for diagnostics only.
type Frame struct {
	Sent    bool      `json:"sent"`
	Binary  bool      `json:"binary,omitempty"`
	Close   bool      `json:"close,omitempty"`
	Code    int       `json:"code,omitempty"`
	Payload string    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Callback receives recognition events from an adapter. Adapters deliver
// events from a single goroutine, in arrival order.
type Callback interface {
	// OnResult is called for every formatted recognition message.
	OnResult(msg Message)

	// OnFrame is called for raw protocol frames.
	OnFrame(frame Frame)

	// OnEnd is called when the stream ends. It may be called more than once.
	OnEnd()

	// OnError is called when the stream fails.
	OnError(err error)
}

// Adapter defines the interface for STT providers.
type Adapter interface {
	// Start opens the streaming recognition session.
	Start(ctx context.Context, opts Options, cb Callback) error

	// SendAudio sends audio bytes to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// Factory creates a fresh adapter for each stream.
type Factory func(ctx context.Context) (Adapter, error)
