// Package mock provides a mock STT adapter for running without cloud credentials.
// It simulates progressive interim results and exactly one final result per
// utterance, one step per audio frame.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"live-translate-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive interim transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"good", "good morning", "good morning every"},
		Final:    "Good morning everyone.",
	},
	{
		Partials: []string{"thank you", "thank you for", "thank you for coming"},
		Final:    "Thank you for coming today.",
	},
	{
		Partials: []string{"let's", "let's start with"},
		Final:    "Let's start with the first topic.",
	},
	{
		Partials: []string{"any"},
		Final:    "Any questions?",
	},
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("mock adapter already started")

// Adapter implements stt.Adapter with simulated results.
type Adapter struct {
	mu           sync.Mutex
	cb           stt.Callback
	opts         stt.Options
	utterances   []SimulatedUtterance
	current      int
	partialIndex int
	audioSeen    bool
	closed       bool

	// Delay is applied before each delivered event.
	Delay time.Duration

	qmu     sync.Mutex
	pending []func(stt.Callback)
	qclosed bool
	signal  chan struct{}
	done    chan struct{}
}

// New creates a new mock STT adapter cycling through DefaultUtterances.
func New() *Adapter {
	return NewWithUtterances(DefaultUtterances)
}

// NewWithUtterances creates a mock adapter cycling through the given utterances.
func NewWithUtterances(utterances []SimulatedUtterance) *Adapter {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Adapter{
		utterances: utterances,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Factory returns an stt.Factory producing mock adapters with the given delay.
func Factory(delay time.Duration) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		a := New()
		a.Delay = delay
		return a, nil
	}
}

// Start begins a mock recognition session.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb != nil {
		return ErrAlreadyStarted
	}
	a.cb = cb
	a.opts = opts
	go a.run(cb)

	start, _ := json.Marshal(map[string]any{
		"action":                      "start",
		"model":                       opts.Model,
		"interim_results":             opts.InterimResults,
		"smart_formatting":            opts.SmartFormatting,
		"speaker_labels":              opts.SpeakerLabels,
		"timestamps":                  opts.Timestamps,
		"word_alternatives_threshold": opts.WordAlternativesThreshold,
	})
	a.frame(stt.Frame{Sent: true, Payload: string(start)})
	a.frame(stt.Frame{Payload: `{"state":"listening"}`})
	return nil
}

// SendAudio advances the simulation by one step: the next interim result of
// the current utterance, or its final result once the interims are exhausted.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}
	if !a.audioSeen {
		a.audioSeen = true
		a.frame(stt.Frame{Sent: true, Binary: true})
	}

	u := a.utterances[a.current]
	if a.partialIndex < len(u.Partials) {
		if a.opts.InterimResults {
			a.result(stt.Interim(u.Partials[a.partialIndex]))
		}
		a.partialIndex++
		return nil
	}
	a.finishUtterance()
	return nil
}

// Close ends the mock session. An utterance in progress is finalized first.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.cb == nil {
		close(a.done)
		return nil
	}

	if a.partialIndex > 0 {
		a.finishUtterance()
	}
	a.frame(stt.Frame{Close: true, Code: 1000})
	a.push(func(cb stt.Callback) { cb.OnEnd() })

	a.qmu.Lock()
	a.qclosed = true
	a.qmu.Unlock()
	a.wake()
	return nil
}

// Done is closed once every queued event has been delivered after Close.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

func (a *Adapter) finishUtterance() {
	u := a.utterances[a.current]
	msg := stt.Final(u.Final)
	if a.opts.SpeakerLabels {
		msg.SpeakerLabels = []stt.SpeakerLabel{{Speaker: a.current % 2, Confidence: 0.8, Final: true}}
	}
	a.result(msg)
	a.current = (a.current + 1) % len(a.utterances)
	a.partialIndex = 0
}

func (a *Adapter) result(msg stt.Message) {
	payload, _ := json.Marshal(map[string]any{
		"results": []map[string]any{{
			"final":        msg.IsFinal(),
			"alternatives": []map[string]string{{"transcript": msg.Transcript}},
		}},
	})
	a.frame(stt.Frame{Payload: string(payload)})
	a.push(func(cb stt.Callback) { cb.OnResult(msg) })
}

func (a *Adapter) frame(f stt.Frame) {
	f.At = time.Now()
	a.push(func(cb stt.Callback) { cb.OnFrame(f) })
}

func (a *Adapter) push(fn func(stt.Callback)) {
	a.qmu.Lock()
	a.pending = append(a.pending, fn)
	a.qmu.Unlock()
	a.wake()
}

func (a *Adapter) wake() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// run delivers queued events in order from a single goroutine.
func (a *Adapter) run(cb stt.Callback) {
	defer close(a.done)
	for {
		a.qmu.Lock()
		items := a.pending
		a.pending = nil
		closed := a.qclosed
		a.qmu.Unlock()

		for _, fn := range items {
			if a.Delay > 0 {
				time.Sleep(a.Delay)
			}
			fn(cb)
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-a.signal
	}
}
