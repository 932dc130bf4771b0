// Package speech decides what translated text to speak and drives synthesis
// and playback with at most one request in flight.
package speech

import (
	"strings"

	"live-translate-service/internal/service/transcript"
	"live-translate-service/internal/service/translate"
)

// Mode selects what a pass speaks.
type Mode int

const (
	// ModeIncremental speaks the newest settled utterance only.
	ModeIncremental Mode = iota
	// ModeCatchUp speaks every translated slot.
	ModeCatchUp
)

func (m Mode) String() string {
	if m == ModeCatchUp {
		return "catch_up"
	}
	return "incremental"
}

// Request is a playback request.
type Request struct {
	Text     []string
	Source   string
	Voice    string
	Accept   string
	Download bool
}

// Joined returns the text to synthesize.
func (r Request) Joined() string {
	return strings.Join(r.Text, " ")
}

// Decide returns the text to speak after a translation pass over w.
//
// In catch-up mode every slot with a translation is returned in index order.
// In incremental mode only the newest final entry is returned, and only when
// this pass produced its translation, so an utterance is spoken once and
// provisional text is never spoken.
func Decide(mode Mode, w transcript.Window, res translate.Result) ([]string, bool) {
	if mode == ModeCatchUp {
		text := res.Translated()
		return text, len(text) > 0
	}

	i := w.LastFinal()
	if i < 0 || i >= len(res.Outcomes) {
		return nil, false
	}
	o := res.Outcomes[i]
	if !o.Has || !o.Fresh {
		return nil, false
	}
	return []string{o.Translated}, true
}
