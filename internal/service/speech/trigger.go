package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"live-translate-service/internal/observability/metrics"
)

// MsgPlaybackFailed is the user-facing playback error.
const MsgPlaybackFailed = "Could not play audio"

var errNoAudio = errors.New("synthesizer returned no audio")

// Audio is a synthesized audio stream.
type Audio struct {
	ContentType string
	// Filename is set when a download was requested.
	Filename string
	Body     io.ReadCloser
}

// Synthesizer turns a request into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// Player renders audio. Play returns once the audio has been handed off.
type Player interface {
	Play(ctx context.Context, generation uint64, audio *Audio) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, generation uint64, audio *Audio) error

func (f PlayerFunc) Play(ctx context.Context, generation uint64, audio *Audio) error {
	return f(ctx, generation, audio)
}

// PlaybackError is a failed synthesis or playback.
type PlaybackError struct {
	Generation uint64
	Err        error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %d: %v", e.Generation, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Status is the observable playback state.
type Status struct {
	Generation uint64 `json:"generation"`
	Loading    bool   `json:"loading"`
	HasAudio   bool   `json:"hasAudio"`
	Err        string `json:"error,omitempty"`
}

// TriggerConfig configures a Trigger.
type TriggerConfig struct {
	// Timeout bounds synthesis plus hand-off. Zero means no bound.
	Timeout time.Duration
	// ErrorDismiss is how long a playback error stays visible.
	ErrorDismiss time.Duration
}

// Trigger issues playback requests. A new request preempts the one in
// flight, and only the current generation's audio is ever played.
type Trigger struct {
	synth   Synthesizer
	player  Player
	cfg     TriggerConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	status   Status
	errSeq   uint64
	dismiss  *time.Timer
	onChange func(Status)

	wg sync.WaitGroup
}

// NewTrigger creates a trigger.
func NewTrigger(synth Synthesizer, player Player, cfg TriggerConfig, m *metrics.Metrics) *Trigger {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Trigger{
		synth:   synth,
		player:  player,
		cfg:     cfg,
		metrics: m,
		logger:  log.With().Str("component", "speech").Logger(),
	}
}

// OnChange registers a function called after every status change. It is
// called without locks held.
func (t *Trigger) OnChange(fn func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Status returns the current playback state.
func (t *Trigger) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Speak issues req, preempting any request in flight, and returns its
// generation.
func (t *Trigger) Speak(ctx context.Context, req Request) uint64 {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	rctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.status.Generation = gen
	t.status.Loading = true
	t.status.HasAudio = false
	st, fn := t.status, t.onChange
	t.wg.Add(1)
	t.mu.Unlock()

	t.metrics.RecordPlayback("issued")
	notify(fn, st)

	go func() {
		defer t.wg.Done()
		defer cancel()
		t.run(rctx, gen, req)
	}()
	return gen
}

func (t *Trigger) run(ctx context.Context, gen uint64, req Request) {
	ctx, span := tracer.Start(ctx, "speech.Speak", trace.WithAttributes(
		attribute.Int64("generation", int64(gen)),
		attribute.String("voice", req.Voice),
		attribute.String("accept", req.Accept),
	))
	defer span.End()

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := t.synth.Synthesize(ctx, req)
	t.metrics.RecordSynthesis(time.Since(start).Seconds())
	if err == nil && audio == nil {
		err = errNoAudio
	}
	if !t.current(gen) {
		if audio != nil {
			audio.Body.Close()
		}
		t.metrics.RecordPlayback("stale")
		span.AddEvent("stale")
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.Fail(gen, err)
		return
	}
	defer audio.Body.Close()

	if err := t.player.Play(ctx, gen, audio); err != nil {
		if !t.current(gen) {
			t.metrics.RecordPlayback("stale")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.Fail(gen, err)
		return
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		t.metrics.RecordPlayback("stale")
		return
	}
	t.status.Loading = false
	t.status.HasAudio = true
	st, fn := t.status, t.onChange
	t.mu.Unlock()

	t.metrics.RecordPlayback("played")
	notify(fn, st)
}

// Fail reports a playback error for generation gen. Errors of a preempted
// generation are ignored. The error clears itself after ErrorDismiss.
func (t *Trigger) Fail(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.status.Loading = false
	t.status.HasAudio = false
	t.status.Err = MsgPlaybackFailed
	t.errSeq++
	seq := t.errSeq
	if t.dismiss != nil {
		t.dismiss.Stop()
	}
	if t.cfg.ErrorDismiss > 0 {
		t.dismiss = time.AfterFunc(t.cfg.ErrorDismiss, func() { t.clearError(seq) })
	}
	st, fn := t.status, t.onChange
	t.mu.Unlock()

	t.metrics.RecordPlayback("failed")
	t.logger.Warn().Err(&PlaybackError{Generation: gen, Err: err}).Msg(MsgPlaybackFailed)
	notify(fn, st)
}

func (t *Trigger) clearError(seq uint64) {
	t.mu.Lock()
	if seq != t.errSeq || t.status.Err == "" {
		t.mu.Unlock()
		return
	}
	t.status.Err = ""
	st, fn := t.status, t.onChange
	t.mu.Unlock()
	notify(fn, st)
}

func (t *Trigger) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}

// Cancel preempts the request in flight without issuing a new one.
func (t *Trigger) Cancel() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.status.Generation = t.gen
	t.status.Loading = false
	st, fn := t.status, t.onChange
	t.mu.Unlock()
	notify(fn, st)
}

// Wait blocks until every issued request has resolved.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// Close cancels the request in flight, stops the dismiss timer and waits.
func (t *Trigger) Close() {
	t.Cancel()
	t.mu.Lock()
	if t.dismiss != nil {
		t.dismiss.Stop()
	}
	t.mu.Unlock()
	t.Wait()
}

func notify(fn func(Status), st Status) {
	if fn != nil {
		fn(st)
	}
}
