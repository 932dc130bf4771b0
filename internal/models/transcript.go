// Package models defines the data structures shared across the service:
// catalog entries and the events published for transcripts and translations.
package models

// Event types published to Kafka.
const (
	EventTranscriptInterim = "session.transcript.interim"
	EventTranscriptFinal   = "session.transcript.final"
	EventTranslation       = "session.translation"
)

// TranscriptEvent represents a recognition result accepted into the transcript.
type TranscriptEvent struct {
	EventType     string   `json:"eventType"`
	SessionID     string   `json:"sessionId"`
	StreamID      string   `json:"streamId"`
	Timestamp     int64    `json:"timestamp"`
	Index         int      `json:"index"`
	Model         string   `json:"model"`
	Text          string   `json:"text"`
	Final         bool     `json:"final"`
	SpeakerLabels []string `json:"speakerLabels,omitempty"`
}

// TranslationEvent represents a translation written back into a slot.
type TranslationEvent struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Timestamp  int64  `json:"timestamp"`
	Index      int    `json:"index"`
	SourceLang string `json:"sourceLang"`
	Voice      string `json:"voice"`
	Source     string `json:"source"`
	Translated string `json:"translated"`
}
