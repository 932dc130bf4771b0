package stt

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Kind tags a recognition message.
type Kind int

const (
	// KindInterim is a provisional result that may still be revised.
	KindInterim Kind = iota
	// KindFinal is a settled result.
	KindFinal
	// KindSpeakerLabels carries speaker labels only, without a transcript.
	KindSpeakerLabels
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	case KindSpeakerLabels:
		return "speaker_labels"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// SpeakerLabel attributes a time range to a speaker.
type SpeakerLabel struct {
	From       float64 `json:"from"`
	To         float64 `json:"to"`
	Speaker    int     `json:"speaker"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// Message is a recognition result.
type Message struct {
	Kind          Kind
	Transcript    string
	ResultIndex   int
	SpeakerLabels []SpeakerLabel
}

// Final returns a settled message.
func Final(transcript string) Message {
	return Message{Kind: KindFinal, Transcript: transcript}
}

// Interim returns a provisional message.
func Interim(transcript string) Message {
	return Message{Kind: KindInterim, Transcript: transcript}
}

// IsFinal reports whether the message is settled.
func (m Message) IsFinal() bool {
	return m.Kind == KindFinal
}

// HasSpeakerLabels reports whether the message carries speaker labels.
func (m Message) HasSpeakerLabels() bool {
	return len(m.SpeakerLabels) > 0
}

// ErrEmptyMessage is returned for payloads with neither results nor labels.
var ErrEmptyMessage = errors.New("message has no results or speaker labels")

type wireAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type wireResult struct {
	Final         bool              `json:"final"`
	Alternatives  []wireAlternative `json:"alternatives"`
	SpeakerLabels []SpeakerLabel    `json:"speaker_labels"`
}

type wireMessage struct {
	ResultIndex   int            `json:"result_index"`
	Results       []wireResult   `json:"results"`
	SpeakerLabels []SpeakerLabel `json:"speaker_labels"`
	Error         string         `json:"error"`
	State         string         `json:"state"`
}

// ParseMessage decodes a formatted recognition payload of the form
// {results:[{final, alternatives:[{transcript}], speaker_labels?}], speaker_labels?}.
// All results of one message share the same finality, so the first result
// decides the kind and supplies the transcript.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode recognition message: %w", err)
	}
	return w.toMessage()
}

func (w wireMessage) toMessage() (Message, error) {
	labels := w.SpeakerLabels
	for _, r := range w.Results {
		labels = append(labels, r.SpeakerLabels...)
	}

	if len(w.Results) == 0 {
		if len(labels) == 0 {
			return Message{}, ErrEmptyMessage
		}
		return Message{Kind: KindSpeakerLabels, ResultIndex: w.ResultIndex, SpeakerLabels: labels}, nil
	}

	first := w.Results[0]
	msg := Message{
		Kind:          KindInterim,
		ResultIndex:   w.ResultIndex,
		SpeakerLabels: labels,
	}
	if first.Final {
		msg.Kind = KindFinal
	}
	if len(first.Alternatives) > 0 {
		msg.Transcript = first.Alternatives[0].Transcript
	}
	return msg, nil
}
