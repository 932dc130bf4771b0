package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/stt"
)

// Listener receives session events. Events of a stream that has been replaced
// or stopped are never delivered. Listener methods must not call back into
// the Session.
type Listener interface {
	// OnResult is called for every recognition message of the active stream.
	OnResult(streamId string, msg stt.Message)

	// OnFrame is called for raw protocol frames, for diagnostics only.
	OnFrame(streamId string, frame stt.Frame)

	// OnStateChange is called on every state transition. err is set when
	// entering StateError.
	OnStateChange(streamId string, state State, err *Error)
}

// Options configures one stream.
type Options struct {
	stt.Options

	// ModelRateHz is the selected model's sample rate.
	ModelRateHz int
	// InputRateHz is the sample rate of the audio that will be sent.
	InputRateHz int
}

type stream struct {
	id      string
	adapter stt.Adapter
	started time.Time
}

// Session manages the recognition stream lifecycle.
//
// State transitions:
//
//	IDLE → LISTENING → ENDED → IDLE   (clean end or Stop)
//	           │
//	           └──────→ ERROR → IDLE   (stream failure, no retry)
//
// Rules:
//   - Start tears down any prior stream before opening a new one
//   - Stop is a no-op when idle
//   - A duplicate end is a no-op once idle
type Session struct {
	// deliverMu serializes event delivery with stream replacement so that no
	// event of a detached stream reaches the listener afterwards.
	deliverMu sync.Mutex

	mu       sync.Mutex
	id       string
	factory  stt.Factory
	provider string
	listener Listener
	ids      *Generator
	state    State
	current  *stream
	lastErr  *Error
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates an idle session.
func New(sessionId, provider string, factory stt.Factory, listener Listener, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Session{
		id:       sessionId,
		factory:  factory,
		provider: provider,
		listener: listener,
		ids:      NewGenerator(),
		state:    StateIdle,
		metrics:  m,
		logger:   log.With().Str("component", "session").Str("sessionId", sessionId).Logger(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamId returns the active stream id, or "" when idle.
func (s *Session) StreamId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// LastError returns the error that ended the most recent stream, if any.
func (s *Session) LastError() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start opens a new recognition stream, tearing down any prior one first.
func (s *Session) Start(ctx context.Context, opts Options) error {
	if opts.Model == "" || opts.Model == "init" {
		return ErrInvalidSourceModel
	}

	s.deliverMu.Lock()
	prev := s.detach("replaced")
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()

	if opts.InputRateHz > 0 && opts.ModelRateHz > 0 && opts.InputRateHz < opts.ModelRateHz {
		err := SampleRateMismatch(opts.InputRateHz, opts.ModelRateHz)
		s.failLocked("", err)
		s.deliverMu.Unlock()
		closeAdapter(prev)
		return err
	}

	adapter, err := s.factory(ctx)
	if err != nil {
		se := Classify(err)
		s.failLocked("", se)
		s.deliverMu.Unlock()
		closeAdapter(prev)
		return se
	}

	cur := &stream{id: s.ids.Next(s.id), adapter: adapter, started: time.Now()}
	s.mu.Lock()
	s.current = cur
	s.state = StateListening
	s.mu.Unlock()
	s.metrics.RecordStreamStart()
	s.listener.OnStateChange(cur.id, StateListening, nil)
	s.deliverMu.Unlock()

	closeAdapter(prev)

	s.logger.Info().
		Str("streamId", cur.id).
		Str("provider", s.provider).
		Str("model", opts.Model).
		Bool("speakerLabels", opts.SpeakerLabels).
		Msg("Starting recognition stream")

	if err := adapter.Start(ctx, opts.Options, &streamCallback{s: s, id: cur.id}); err != nil {
		se := Classify(err)
		s.fail(cur.id, se)
		return se
	}
	return nil
}

// Stop ends the active stream and releases its transport. It is a no-op when
// no stream is active.
func (s *Session) Stop() error {
	s.deliverMu.Lock()
	prev := s.detach("stopped")
	s.deliverMu.Unlock()
	if prev == nil {
		return nil
	}
	s.logger.Info().Str("streamId", prev.id).Msg("Recognition stream stopped")
	return prev.adapter.Close()
}

// SendAudio forwards audio to the active stream.
func (s *Session) SendAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return ErrNotListening
	}
	s.metrics.RecordAudioReceived(len(audio))
	return cur.adapter.SendAudio(ctx, audio)
}

// detach clears the active stream and walks LISTENING → ENDED → IDLE. The
// caller must hold deliverMu and close the returned stream's adapter after
// releasing it.
func (s *Session) detach(outcome string) *stream {
	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return nil
	}
	s.current = nil
	s.state = StateIdle
	s.mu.Unlock()

	s.metrics.RecordStreamEnd(outcome, time.Since(cur.started).Seconds())
	s.listener.OnStateChange(cur.id, StateEnded, nil)
	s.listener.OnStateChange(cur.id, StateIdle, nil)
	return cur
}

// end handles the end event of stream id. Duplicates are ignored.
func (s *Session) end(id string) {
	s.deliverMu.Lock()
	if !s.isCurrent(id) {
		s.deliverMu.Unlock()
		return
	}
	cur := s.detach("ended")
	s.deliverMu.Unlock()

	s.logger.Info().Str("streamId", id).Msg("Recognition stream ended")
	go closeAdapter(cur)
}

// fail handles a failure of stream id.
func (s *Session) fail(id string, err *Error) {
	s.deliverMu.Lock()
	if !s.isCurrent(id) {
		s.deliverMu.Unlock()
		return
	}
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	s.metrics.RecordStreamEnd("error", time.Since(cur.started).Seconds())
	s.failLocked(id, err)
	s.deliverMu.Unlock()

	go closeAdapter(cur)
}

// failLocked walks ERROR → IDLE. The caller must hold deliverMu.
func (s *Session) failLocked(id string, err *Error) {
	s.mu.Lock()
	s.lastErr = err
	s.state = StateIdle
	s.mu.Unlock()

	s.metrics.RecordStreamError(err.Kind.String())
	s.logger.Warn().
		Str("streamId", id).
		Str("kind", err.Kind.String()).
		Str("category", string(err.Category())).
		Err(err.Err).
		Msg(err.Message)

	s.listener.OnStateChange(id, StateError, err)
	s.listener.OnStateChange(id, StateIdle, nil)
}

func (s *Session) isCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.id == id
}

func closeAdapter(st *stream) {
	if st == nil {
		return
	}
	if err := st.adapter.Close(); err != nil {
		log.Debug().Err(err).Str("streamId", st.id).Msg("Closing recognition adapter")
	}
}

// streamCallback gates adapter events by stream id.
type streamCallback struct {
	s  *Session
	id string
}

func (c *streamCallback) OnResult(msg stt.Message) {
	c.s.deliverMu.Lock()
	defer c.s.deliverMu.Unlock()
	if c.s.isCurrent(c.id) {
		c.s.metrics.RecordResult(msg.Kind.String())
		c.s.listener.OnResult(c.id, msg)
	}
}

func (c *streamCallback) OnFrame(f stt.Frame) {
	c.s.deliverMu.Lock()
	defer c.s.deliverMu.Unlock()
	if c.s.isCurrent(c.id) {
		c.s.listener.OnFrame(c.id, f)
	}
}

func (c *streamCallback) OnEnd() {
	c.s.end(c.id)
}

func (c *streamCallback) OnError(err error) {
	c.s.fail(c.id, Classify(err))
}
