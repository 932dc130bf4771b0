// Package transcript records recognition results as an ordered window of
// settled entries followed by at most one provisional entry.
package transcript

import (
	"iter"
	"sync"

	"live-translate-service/internal/service/stt"
)

// Entry is one position of the active window.
type Entry struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Window is an immutable snapshot of the active window.
type Window struct {
	entries []Entry
}

// NewWindow builds a window from entries. The slice is copied.
func NewWindow(entries ...Entry) Window {
	return Window{entries: append([]Entry(nil), entries...)}
}

// Len returns the number of entries.
func (w Window) Len() int { return len(w.entries) }

// At returns the entry at index i.
func (w Window) At(i int) Entry { return w.entries[i] }

// All iterates the entries in order. It can be ranged over any number of times.
func (w Window) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i, e := range w.entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Texts returns the entry texts in order.
func (w Window) Texts() []string {
	out := make([]string, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.Text
	}
	return out
}

// LastFinal returns the index of the newest settled entry, or -1.
func (w Window) LastFinal() int {
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].Final {
			return i
		}
	}
	return -1
}

// Buffer accumulates results. Safe for concurrent use.
type Buffer struct {
	mu          sync.RWMutex
	settled     []Entry
	provisional *Entry
	labels      []stt.SpeakerLabel
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append records a result. A final result becomes a new settled entry and
// supersedes the provisional one. An interim result replaces the provisional
// entry. Speaker labels are kept aside and never enter the window.
func (b *Buffer) Append(msg stt.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.labels = append(b.labels, msg.SpeakerLabels...)

	switch msg.Kind {
	case stt.KindFinal:
		b.settled = append(b.settled, Entry{Text: msg.Transcript, Final: true})
		b.provisional = nil
	case stt.KindInterim:
		b.provisional = &Entry{Text: msg.Transcript}
	}
}

// Window returns a snapshot of the settled entries followed by the
// provisional entry, if any.
func (b *Buffer) Window() Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]Entry, 0, len(b.settled)+1)
	entries = append(entries, b.settled...)
	if b.provisional != nil {
		entries = append(entries, *b.provisional)
	}
	return Window{entries: entries}
}

// SpeakerLabels returns every label received since the last reset.
func (b *Buffer) SpeakerLabels() []stt.SpeakerLabel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]stt.SpeakerLabel(nil), b.labels...)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled = nil
	b.provisional = nil
	b.labels = nil
}
