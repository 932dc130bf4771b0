package pipeline

import (
	"live-translate-service/internal/models"
	"live-translate-service/internal/service/session"
	"live-translate-service/internal/service/speech"
	"live-translate-service/internal/service/transcript"
	"live-translate-service/internal/service/translate"
)

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	SessionID     string             `json:"sessionId"`
	StreamID      string             `json:"streamId,omitempty"`
	State         session.State      `json:"state"`
	Model         string             `json:"model,omitempty"`
	SourceLang    string             `json:"sourceLang,omitempty"`
	Voice         string             `json:"voice,omitempty"`
	Candidates    []models.Voice     `json:"candidates"`
	Translating   bool               `json:"translating"`
	Speaking      bool               `json:"speaking"`
	SpeakerLabels bool               `json:"speakerLabels"`
	Accept        string             `json:"accept,omitempty"`
	Transcript    []transcript.Entry `json:"transcript"`
	Slots         []translate.Slot   `json:"slots"`
	Playback      speech.Status      `json:"playback"`
	Error         string             `json:"error,omitempty"`
	ErrorKind     string             `json:"errorKind,omitempty"`
	Bandwidth     int                `json:"bandwidth,omitempty"`
}

// Translated returns the translated text of every slot that has one.
func (s Snapshot) Translated() []string {
	var out []string
	for _, slot := range s.Slots {
		if slot.HasTranslation {
			out = append(out, slot.Translated)
		}
	}
	return out
}
