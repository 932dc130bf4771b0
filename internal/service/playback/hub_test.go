package playback

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"live-translate-service/internal/service/speech"
)

type recordingSink struct {
	mu    sync.Mutex
	clips []Clip
	err   error
}

func (s *recordingSink) PlayClip(_ context.Context, clip Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.clips = append(s.clips, clip)
	return nil
}

func audioOf(text string) *speech.Audio {
	return &speech.Audio{
		ContentType: "audio/wav",
		Body:        io.NopCloser(strings.NewReader(text)),
	}
}

func TestHub_NoListener(t *testing.T) {
	h := NewHub(nil)
	if err := h.Play(context.Background(), 1, audioOf("x")); !errors.Is(err, ErrNoListener) {
		t.Errorf("expected ErrNoListener, got %v", err)
	}
}

func TestHub_Archive(t *testing.T) {
	var played []string
	h := NewHub(speech.PlayerFunc(func(_ context.Context, gen uint64, a *speech.Audio) error {
		data, err := io.ReadAll(a.Body)
		played = append(played, string(data))
		return err
	}))
	if err := h.Play(context.Background(), 7, audioOf("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Attached sinks and the archive both receive the clip.
	sink := &recordingSink{}
	detach := h.Attach(sink)
	defer detach()
	if err := h.Play(context.Background(), 8, audioOf("y")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(played) != 2 || played[0] != "x" || played[1] != "y" {
		t.Errorf("unexpected archived clips %q", played)
	}
	if len(sink.clips) != 1 || sink.clips[0].Generation != 8 {
		t.Errorf("unexpected clips %+v", sink.clips)
	}

	// A failing sink is tolerated when the archive succeeded.
	sink.err = errors.New("closed")
	if err := h.Play(context.Background(), 9, audioOf("z")); err != nil {
		t.Errorf("expected archive to absorb sink failure, got %v", err)
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(nil)
	a, b := &recordingSink{}, &recordingSink{}
	detachA := h.Attach(a)
	h.Attach(b)

	if h.Len() != 2 {
		t.Fatalf("expected 2 sinks, got %d", h.Len())
	}
	if err := h.Play(context.Background(), 1, audioOf("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range []*recordingSink{a, b} {
		if len(s.clips) != 1 || string(s.clips[0].Data) != "hello" || s.clips[0].ContentType != "audio/wav" {
			t.Errorf("sink %d: unexpected clips %+v", i, s.clips)
		}
	}

	detachA()
	detachA()
	if h.Len() != 1 {
		t.Errorf("expected 1 sink after detach, got %d", h.Len())
	}
}

func TestHub_PartialFailure(t *testing.T) {
	h := NewHub(nil)
	h.Attach(&recordingSink{err: errors.New("closed")})
	good := &recordingSink{}
	h.Attach(good)

	if err := h.Play(context.Background(), 1, audioOf("x")); err != nil {
		t.Errorf("expected success when one sink accepts, got %v", err)
	}
}

func TestHub_AllSinksFail(t *testing.T) {
	h := NewHub(nil)
	h.Attach(&recordingSink{err: errors.New("closed")})

	if err := h.Play(context.Background(), 1, audioOf("x")); err == nil {
		t.Error("expected error when every sink fails")
	}
}

func TestClip_Audio(t *testing.T) {
	clip := Clip{ContentType: "audio/mp3", Filename: "t.mp3", Data: []byte("abc")}
	a := clip.Audio()
	data, _ := io.ReadAll(a.Body)
	if string(data) != "abc" || a.ContentType != "audio/mp3" || a.Filename != "t.mp3" {
		t.Errorf("unexpected audio %+v %q", a, data)
	}
}
