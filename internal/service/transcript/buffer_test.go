package transcript

import (
	"reflect"
	"testing"

	"live-translate-service/internal/service/stt"
)

func TestBuffer_Append(t *testing.T) {
	tests := []struct {
		name     string
		messages []stt.Message
		want     []Entry
	}{
		{
			name:     "empty",
			messages: nil,
			want:     []Entry{},
		},
		{
			name:     "interim replaces interim",
			messages: []stt.Message{stt.Interim("hel"), stt.Interim("hello")},
			want:     []Entry{{Text: "hello"}},
		},
		{
			name:     "final supersedes interim",
			messages: []stt.Message{stt.Interim("hel"), stt.Final("hello")},
			want:     []Entry{{Text: "hello", Final: true}},
		},
		{
			name: "settled then provisional",
			messages: []stt.Message{
				stt.Final("hello"), stt.Interim("wor"), stt.Final("world"), stt.Interim("how"),
			},
			want: []Entry{
				{Text: "hello", Final: true},
				{Text: "world", Final: true},
				{Text: "how"},
			},
		},
		{
			name: "label-only message stays out of the window",
			messages: []stt.Message{
				stt.Final("hello"),
				{Kind: stt.KindSpeakerLabels, SpeakerLabels: []stt.SpeakerLabel{{Speaker: 1}}},
			},
			want: []Entry{{Text: "hello", Final: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			for _, m := range tt.messages {
				b.Append(m)
			}
			got := b.Window()
			entries := make([]Entry, 0, got.Len())
			for _, e := range got.All() {
				entries = append(entries, e)
			}
			if !reflect.DeepEqual(entries, tt.want) {
				t.Errorf("window = %+v, want %+v", entries, tt.want)
			}
		})
	}
}

func TestWindow_IsSnapshot(t *testing.T) {
	b := NewBuffer()
	b.Append(stt.Final("one"))
	w := b.Window()

	b.Append(stt.Final("two"))
	b.Reset()

	if w.Len() != 1 || w.At(0).Text != "one" {
		t.Errorf("snapshot changed: %+v", w.Texts())
	}
	if b.Window().Len() != 0 {
		t.Errorf("expected empty window after reset")
	}
}

func TestWindow_AllIsRestartable(t *testing.T) {
	w := NewWindow(Entry{Text: "a", Final: true}, Entry{Text: "b"})

	var first, second []string
	for _, e := range w.All() {
		first = append(first, e.Text)
	}
	for _, e := range w.All() {
		second = append(second, e.Text)
	}
	if !reflect.DeepEqual(first, second) || len(first) != 2 {
		t.Errorf("iterations differ: %v vs %v", first, second)
	}

	for i := range w.All() {
		if i > 0 {
			t.Fatal("early break not honored")
		}
		break
	}
}

func TestWindow_LastFinal(t *testing.T) {
	tests := []struct {
		window Window
		want   int
	}{
		{NewWindow(), -1},
		{NewWindow(Entry{Text: "a"}), -1},
		{NewWindow(Entry{Text: "a", Final: true}, Entry{Text: "b"}), 0},
		{NewWindow(Entry{Text: "a", Final: true}, Entry{Text: "b", Final: true}), 1},
	}
	for _, tt := range tests {
		if got := tt.window.LastFinal(); got != tt.want {
			t.Errorf("LastFinal(%v) = %d, want %d", tt.window.Texts(), got, tt.want)
		}
	}
}

func TestBuffer_SpeakerLabels(t *testing.T) {
	b := NewBuffer()
	b.Append(stt.Message{Kind: stt.KindFinal, Transcript: "hi", SpeakerLabels: []stt.SpeakerLabel{{Speaker: 0}}})
	b.Append(stt.Message{Kind: stt.KindSpeakerLabels, SpeakerLabels: []stt.SpeakerLabel{{Speaker: 1, Final: true}}})

	labels := b.SpeakerLabels()
	if len(labels) != 2 || labels[1].Speaker != 1 {
		t.Errorf("unexpected labels %+v", labels)
	}

	b.Reset()
	if len(b.SpeakerLabels()) != 0 {
		t.Error("expected labels cleared on reset")
	}
}
