package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"live-translate-service/internal/service/stt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidSourceModel
	KindUnsupportedAudioFormat
	KindMicrophoneUnavailable
	KindSampleRateMismatch
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidSourceModel:
		return "InvalidSourceModel"
	case KindUnsupportedAudioFormat:
		return "UnsupportedAudioFormat"
	case KindMicrophoneUnavailable:
		return "MicrophoneUnavailable"
	case KindSampleRateMismatch:
		return "SampleRateMismatch"
	default:
		return "Unknown"
	}
}

// Category groups error kinds by how they propagate.
type Category string

const (
	// CategoryConfiguration aborts the attempted action only.
	CategoryConfiguration Category = "ConfigurationError"
	// CategoryTransport ends the stream.
	CategoryTransport Category = "TransportError"
	// CategoryUnsupportedFormat ends the stream and lists supported formats.
	CategoryUnsupportedFormat Category = "UnsupportedFormatError"
)

// User-facing messages.
const (
	MsgSelectModel       = "Select a source language model."
	MsgUnsupportedFormat = "Unable to determine content type from file name or header; mp3, wav, flac, ogg, opus, and webm are supported. Please choose a different file."
	MsgNoMicSupport      = "This device does not support microphone input."
	MsgNarrowband        = "Please select a narrowband voice model to transcribe 8KHz audio files."
	MsgMicUnavailable    = "Unable to access microphone"
)

// Error is a classified session error carrying a user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	// Bandwidth is the selected model's sample rate for KindSampleRateMismatch.
	Bandwidth int
	Err       error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Category returns the propagation category of the error.
func (e *Error) Category() Category {
	switch e.Kind {
	case KindInvalidSourceModel:
		return CategoryConfiguration
	case KindUnsupportedAudioFormat:
		return CategoryUnsupportedFormat
	default:
		return CategoryTransport
	}
}

// ErrInvalidSourceModel is returned by Start when no source model is selected.
var ErrInvalidSourceModel = &Error{Kind: KindInvalidSourceModel, Message: MsgSelectModel}

// ErrNotListening is returned when audio is sent without an active stream.
var ErrNotListening = errors.New("no active recognition stream")

var digits = regexp.MustCompile(`\d+`)

// Classify maps an adapter or provider error to a session error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	msg := err.Error()
	switch {
	case errors.Is(err, stt.ErrUnrecognizedFormat), strings.Contains(msg, "UNRECOGNIZED_FORMAT"):
		return &Error{Kind: KindUnsupportedAudioFormat, Message: MsgUnsupportedFormat, Err: err}
	case errors.Is(err, stt.ErrAudioInputUnsupported), strings.Contains(msg, "NotSupportedError"):
		return &Error{Kind: KindMicrophoneUnavailable, Message: MsgNoMicSupport, Err: err}
	case strings.Contains(msg, "UpsamplingNotAllowed"):
		e := &Error{Kind: KindSampleRateMismatch, Message: MsgNarrowband, Err: err}
		if nums := digits.FindAllString(msg, -1); len(nums) > 0 {
			e.Bandwidth, _ = strconv.Atoi(nums[len(nums)-1])
		}
		return e
	case errors.Is(err, stt.ErrAudioInputLost), msg == "Invalid constraint":
		return &Error{Kind: KindMicrophoneUnavailable, Message: MsgMicUnavailable, Err: err}
	default:
		return &Error{Kind: KindUnknown, Message: msg, Err: err}
	}
}

// SampleRateMismatch reports narrowband input sent to a broadband model.
func SampleRateMismatch(inputHz, modelHz int) *Error {
	return &Error{
		Kind:      KindSampleRateMismatch,
		Message:   MsgNarrowband,
		Bandwidth: modelHz,
		Err:       fmt.Errorf("('UpsamplingNotAllowed', %d, %d)", inputHz, modelHz),
	}
}
