// Package pipeline owns the session state and wires recognition results
// through the transcript buffer, the delta translator and the speech trigger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"live-translate-service/internal/gateway"
	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/logging"
	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/selection"
	"live-translate-service/internal/service/session"
	"live-translate-service/internal/service/speech"
	"live-translate-service/internal/service/stt"
	"live-translate-service/internal/service/transcript"
	"live-translate-service/internal/service/translate"
)

// ErrStreamLimit is returned by SendAudio when the stream exceeded its limits
// and was stopped.
var ErrStreamLimit = errors.New("stream limit exceeded")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("controller closed")

// Limits are guardrails for a single recognition stream. Zero disables a
// check.
type Limits struct {
	MaxAudioBytes int64         // Max audio forwarded per stream
	MaxDuration   time.Duration // Max stream duration
}

// Publisher publishes transcript and translation events.
type Publisher interface {
	PublishTranscript(ctx context.Context, event models.TranscriptEvent) error
	PublishTranslation(ctx context.Context, event models.TranslationEvent) error
}

// CatalogSource provides the model and voice catalog.
type CatalogSource interface {
	Catalog(ctx context.Context) (models.Catalog, error)
}

// TokenSource provides recognition credentials.
type TokenSource interface {
	Token(ctx context.Context) (gateway.Credentials, error)
}

// Config configures a Controller.
type Config struct {
	// SessionID defaults to a random UUID.
	SessionID string
	// Provider names the recognition provider, for logs.
	Provider string
	// STT holds the capability flags every stream is opened with.
	STT          stt.Options
	Catalog      models.NormalizeOptions
	Translation  translate.Config
	Speech       speech.TriggerConfig
	Formats      []string
	Download     bool
	FrameLogSize int
	Limits       Limits
}

// Deps are the collaborators of a Controller. Only Factory is required.
type Deps struct {
	Factory     stt.Factory
	Primary     translate.Translator
	Secondary   translate.Translator
	Synthesizer speech.Synthesizer
	Player      speech.Player
	Catalog     CatalogSource
	Tokens      TokenSource
	Publisher   Publisher
	Metrics     *metrics.Metrics
}

// Controller owns the session state. All mutations go through its methods.
// Recognition results are applied in arrival order; translation passes run on
// a separate goroutine and never block result intake.
type Controller struct {
	cfg     Config
	deps    Deps
	id      string
	metrics *metrics.Metrics
	logger  zerolog.Logger

	session   *session.Session
	buffer    *transcript.Buffer
	delta     *translate.Delta
	trigger   *speech.Trigger
	selection *selection.State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	translating   bool
	speaking      bool
	speakerLabels bool
	accept        string
	lastErr       *session.Error
	frames        []stt.Frame
	streamBytes   int64
	streamStart   time.Time
	closed        bool

	// Pass scheduling. Requests arriving while a pass runs coalesce into one
	// follow-up pass; catch-up wins over incremental.
	passMu      sync.Mutex
	passCond    *sync.Cond
	passPending bool
	passMode    speech.Mode
	passRunning bool
	passSignal  chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a controller. Translation is off and speaking is on.
func New(cfg Config, deps Deps) *Controller {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Formats == nil {
		cfg.Formats = speech.DefaultFormats
	}
	if cfg.FrameLogSize <= 0 {
		cfg.FrameLogSize = 500
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		deps:       deps,
		id:         cfg.SessionID,
		metrics:    m,
		logger:     logging.WithSession(cfg.SessionID),
		buffer:     transcript.NewBuffer(),
		delta:      translate.NewDelta(deps.Primary, deps.Secondary, cfg.Translation, m),
		selection:  selection.New(),
		ctx:        ctx,
		cancel:     cancel,
		speaking:   true,
		passSignal: make(chan struct{}, 1),
		subs:       make(map[int]chan Snapshot),
	}
	c.passCond = sync.NewCond(&c.passMu)
	c.session = session.New(cfg.SessionID, cfg.Provider, deps.Factory, c, m)
	c.trigger = speech.NewTrigger(deps.Synthesizer, deps.Player, cfg.Speech, m)
	c.trigger.OnChange(func(speech.Status) { c.notify() })

	c.wg.Add(1)
	go c.passLoop()
	return c
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// LoadCatalog fetches and normalizes the catalog.
func (c *Controller) LoadCatalog(ctx context.Context) error {
	if c.deps.Catalog == nil {
		return errors.New("no catalog source configured")
	}
	cat, err := c.deps.Catalog.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	c.SetCatalog(cat)
	return nil
}

// SetCatalog normalizes and installs a catalog. When the selected model is
// withdrawn the session is reset as on a model change; when only the selected
// voice changes the translations are redone as on a voice change.
func (c *Controller) SetCatalog(cat models.Catalog) {
	norm := cat.Normalize(c.cfg.Catalog)
	change := c.selection.SetCatalog(norm)
	c.logger.Info().
		Int("models", len(norm.Models)).
		Int("voices", len(norm.Voices)).
		Bool("modelChanged", change.Model).
		Bool("voiceChanged", change.Voice).
		Msg("Catalog loaded")
	switch {
	case change.Model:
		c.resetSession("Stopping stream on catalog change")
	case change.Voice:
		c.retranslate()
	}
	c.notify()
}

// Catalog returns the installed catalog.
func (c *Controller) Catalog() models.Catalog {
	return c.selection.Catalog()
}

// SelectModel selects the source model. The active stream is stopped and the
// transcript and translations are cleared.
func (c *Controller) SelectModel(name string) error {
	if _, err := c.selection.SelectModel(name); err != nil {
		return err
	}
	c.resetSession("Stopping stream on model change")
	c.logger.Info().Str("model", name).Msg("Source model selected")
	c.notify()
	return nil
}

// SelectVoice selects the target voice. Translations are cleared and, while
// translating, everything is translated and spoken again.
func (c *Controller) SelectVoice(name string) error {
	if _, err := c.selection.SelectVoice(name); err != nil {
		return err
	}
	c.logger.Info().Str("voice", name).Msg("Target voice selected")
	c.retranslate()
	c.notify()
	return nil
}

// resetSession stops the active stream and clears the transcript, the
// translations and any pending speech.
func (c *Controller) resetSession(msg string) {
	if err := c.session.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg(msg)
	}
	c.buffer.Reset()
	c.delta.Reset()
	c.trigger.Cancel()

	c.mu.Lock()
	c.lastErr = nil
	c.frames = nil
	c.mu.Unlock()
}

// retranslate clears the translations and, while translating, translates and
// speaks the whole transcript again.
func (c *Controller) retranslate() {
	c.delta.Reset()

	c.mu.Lock()
	translating := c.translating
	c.mu.Unlock()

	if translating {
		c.requestPass(speech.ModeCatchUp)
	}
}

// SetTranslating turns translation on or off. Turning it on translates and
// speaks the whole transcript.
func (c *Controller) SetTranslating(on bool) {
	c.mu.Lock()
	was := c.translating
	c.translating = on
	c.mu.Unlock()

	if on && !was {
		c.requestPass(speech.ModeCatchUp)
	}
	c.notify()
}

// SetSpeaking turns speech on or off. Turning it on while translating speaks
// every translation; turning it off cancels the request in flight.
func (c *Controller) SetSpeaking(on bool) {
	c.mu.Lock()
	was := c.speaking
	c.speaking = on
	translating := c.translating
	c.mu.Unlock()

	switch {
	case on && !was && translating:
		c.requestPass(speech.ModeCatchUp)
	case !on && was:
		c.trigger.Cancel()
	}
	c.notify()
}

// SetSpeakerLabels toggles speaker labels. It applies to the next stream.
func (c *Controller) SetSpeakerLabels(on bool) {
	c.mu.Lock()
	c.speakerLabels = on
	c.mu.Unlock()
	c.notify()
}

// SetProber chooses the accept format from the playback side's capabilities.
func (c *Controller) SetProber(p speech.Prober) {
	accept := speech.ChooseFormat(p, c.cfg.Formats)
	c.mu.Lock()
	c.accept = accept
	c.mu.Unlock()
	c.notify()
}

// StartListening opens a new recognition stream for the selected model,
// clearing the transcript and translations. inputRateHz is the sample rate of
// the audio that will be sent; zero skips the check.
func (c *Controller) StartListening(ctx context.Context, inputRateHz int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	labels := c.speakerLabels
	c.mu.Unlock()

	model, ok := c.selection.Model()
	if !ok {
		c.setError(session.ErrInvalidSourceModel)
		return session.ErrInvalidSourceModel
	}

	opts := session.Options{
		Options:     c.cfg.STT,
		ModelRateHz: model.Rate,
		InputRateHz: inputRateHz,
	}
	opts.Model = model.Name
	opts.Language = model.Language
	opts.SpeakerLabels = labels

	if c.deps.Tokens != nil {
		creds, err := c.deps.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("recognition credentials: %w", err)
		}
		opts.AccessToken = creds.AccessToken
		if creds.ServiceURL != "" {
			opts.ServiceURL = creds.ServiceURL
		}
	}

	c.buffer.Reset()
	c.delta.Reset()
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()

	// The stream outlives the caller's request.
	return c.session.Start(c.ctx, opts)
}

// StopListening stops the active stream. It is a no-op when idle.
func (c *Controller) StopListening() error {
	return c.session.Stop()
}

// SendAudio forwards audio to the active stream. A stream that exceeds its
// limits is stopped.
func (c *Controller) SendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	c.streamBytes += int64(len(audio))
	bytes, started := c.streamBytes, c.streamStart
	c.mu.Unlock()

	limits := c.cfg.Limits
	var reason string
	switch {
	case limits.MaxAudioBytes > 0 && bytes > limits.MaxAudioBytes:
		reason = fmt.Sprintf("max audio bytes exceeded: %d > %d", bytes, limits.MaxAudioBytes)
	case limits.MaxDuration > 0 && !started.IsZero() && time.Since(started) > limits.MaxDuration:
		reason = fmt.Sprintf("max duration exceeded: %v > %v", time.Since(started).Round(time.Millisecond), limits.MaxDuration)
	}
	if reason != "" && c.session.State() == session.StateListening {
		c.logger.Warn().Str("reason", reason).Msg("Stopping stream")
		if err := c.session.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("Stopping stream on limit")
		}
		return fmt.Errorf("%w: %s", ErrStreamLimit, reason)
	}

	return c.session.SendAudio(ctx, audio)
}

// ReportAudioError reports that the playback side could not play generation.
func (c *Controller) ReportAudioError(generation uint64, err error) {
	c.trigger.Fail(generation, err)
}

// Frames returns the diagnostic frame log of the current stream.
func (c *Controller) Frames() []stt.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.frames)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		SessionID:  c.id,
		StreamID:   c.session.StreamId(),
		State:      c.session.State(),
		SourceLang: c.selection.SourceLang(),
		Candidates: c.selection.Candidates(),
		Transcript: []transcript.Entry{},
		Playback:   c.trigger.Status(),
		Slots:      c.delta.Slots(),
	}
	if m, ok := c.selection.Model(); ok {
		s.Model = m.Name
	}
	if v, ok := c.selection.Voice(); ok {
		s.Voice = v.Name
	}
	for _, e := range c.buffer.Window().All() {
		s.Transcript = append(s.Transcript, e)
	}

	c.mu.Lock()
	s.Translating = c.translating
	s.Speaking = c.speaking
	s.SpeakerLabels = c.speakerLabels
	s.Accept = c.accept
	if c.lastErr != nil {
		s.Error = c.lastErr.Message
		s.ErrorKind = c.lastErr.Kind.String()
		s.Bandwidth = c.lastErr.Bandwidth
	}
	c.mu.Unlock()

	if s.Playback.Err != "" && s.Error == "" {
		s.Error = s.Playback.Err
	}
	return s
}

// Subscribe returns a channel receiving the latest snapshot after every
// change. Slow subscribers only see the most recent snapshot. The returned
// function unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) notify() {
	c.subMu.Lock()
	empty := len(c.subs) == 0
	c.subMu.Unlock()
	if empty {
		return
	}

	snap := c.Snapshot()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Wait blocks until no translation pass is pending or running and no
// playback request is in flight.
func (c *Controller) Wait() {
	c.passMu.Lock()
	for (c.passPending || c.passRunning) && c.ctx.Err() == nil {
		c.passCond.Wait()
	}
	c.passMu.Unlock()
	c.trigger.Wait()
}

// Close stops the stream and every background task.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.session.Stop()
	c.cancel()
	c.passMu.Lock()
	c.passCond.Broadcast()
	c.passMu.Unlock()
	c.wg.Wait()
	c.trigger.Close()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
	return err
}

func (c *Controller) setError(err *session.Error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

// --- session.Listener implementation ---

// OnResult records a recognition result and schedules an incremental pass.
func (c *Controller) OnResult(streamId string, msg stt.Message) {
	c.buffer.Append(msg)
	if msg.Kind == stt.KindSpeakerLabels {
		c.notify()
		return
	}

	w := c.buffer.Window()
	index := w.Len() - 1
	c.publishTranscript(streamId, index, msg)

	c.mu.Lock()
	translating := c.translating
	c.mu.Unlock()
	if translating {
		c.requestPass(speech.ModeIncremental)
	}
	c.notify()
}

// OnFrame appends a frame to the bounded diagnostic log.
func (c *Controller) OnFrame(_ string, f stt.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) >= c.cfg.FrameLogSize {
		c.frames = slices.Delete(c.frames, 0, len(c.frames)-c.cfg.FrameLogSize+1)
	}
	c.frames = append(c.frames, f)
}

// OnStateChange tracks stream errors and limits.
func (c *Controller) OnStateChange(streamId string, state session.State, err *session.Error) {
	c.mu.Lock()
	switch state {
	case session.StateListening:
		c.lastErr = nil
		c.streamBytes = 0
		c.streamStart = time.Now()
	case session.StateError:
		c.lastErr = err
	}
	c.mu.Unlock()

	c.logger.Debug().Str("streamId", streamId).Str("state", state.String()).Msg("Session state changed")
	c.notify()
}

// --- translation passes ---

func (c *Controller) requestPass(mode speech.Mode) {
	c.passMu.Lock()
	if !c.passPending || mode == speech.ModeCatchUp {
		c.passMode = mode
	}
	c.passPending = true
	c.passMu.Unlock()

	select {
	case c.passSignal <- struct{}{}:
	default:
	}
}

func (c *Controller) passLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.passSignal:
		}

		for {
			c.passMu.Lock()
			if !c.passPending || c.ctx.Err() != nil {
				c.passMu.Unlock()
				break
			}
			mode := c.passMode
			c.passPending = false
			c.passMode = speech.ModeIncremental
			c.passRunning = true
			c.passMu.Unlock()

			c.runPass(mode)

			c.passMu.Lock()
			c.passRunning = false
			c.passCond.Broadcast()
			c.passMu.Unlock()
		}
	}
}

func (c *Controller) runPass(mode speech.Mode) {
	c.mu.Lock()
	translating, speaking, accept := c.translating, c.speaking, c.accept
	c.mu.Unlock()
	if !translating {
		return
	}
	model, ok := c.selection.Model()
	if !ok {
		return
	}
	voice, ok := c.selection.Voice()
	if !ok {
		return
	}

	ctx, span := tracer.Start(c.ctx, "pipeline.Pass", trace.WithAttributes(
		attribute.String("sessionId", c.id),
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	w := c.buffer.Window()
	res := c.delta.Pass(ctx, translate.PassInput{Window: w, Source: model.Language, Voice: voice.Name})
	c.metrics.RecordTranslationPass(mode.String())
	span.SetAttributes(attribute.Int("requests", res.Requests), attribute.Bool("superseded", res.Superseded))

	c.logger.Debug().
		Str("mode", mode.String()).
		Int("window", w.Len()).
		Int("requests", res.Requests).
		Bool("superseded", res.Superseded).
		Msg("Translation pass completed")

	if res.Superseded {
		c.notify()
		return
	}
	c.publishTranslations(model, voice, res)
	c.notify()

	if !speaking || c.deps.Synthesizer == nil || c.deps.Player == nil {
		return
	}
	text, ok := speech.Decide(mode, w, res)
	if !ok {
		return
	}
	c.trigger.Speak(c.ctx, speech.Request{
		Text:     text,
		Source:   model.Language,
		Voice:    voice.Name,
		Accept:   accept,
		Download: c.cfg.Download,
	})
}

// --- events ---

func (c *Controller) publishTranscript(streamId string, index int, msg stt.Message) {
	if c.deps.Publisher == nil {
		return
	}
	eventType := models.EventTranscriptInterim
	if msg.IsFinal() {
		eventType = models.EventTranscriptFinal
	}
	model, _ := c.selection.Model()
	ev := models.TranscriptEvent{
		EventType: eventType,
		SessionID: c.id,
		StreamID:  streamId,
		Timestamp: time.Now().UnixMilli(),
		Index:     index,
		Model:     model.Name,
		Text:      msg.Transcript,
		Final:     msg.IsFinal(),
	}
	for _, l := range msg.SpeakerLabels {
		ev.SpeakerLabels = append(ev.SpeakerLabels, fmt.Sprintf("speaker %d [%.2f-%.2f]", l.Speaker, l.From, l.To))
	}
	if err := c.deps.Publisher.PublishTranscript(c.ctx, ev); err != nil {
		c.logger.Error().Err(err).Str("streamId", streamId).Msg("Failed to publish transcript")
	}
}

func (c *Controller) publishTranslations(model models.Model, voice models.Voice, res translate.Result) {
	if c.deps.Publisher == nil {
		return
	}
	for i, o := range res.Outcomes {
		if !o.Fresh {
			continue
		}
		ev := models.TranslationEvent{
			EventType:  models.EventTranslation,
			SessionID:  c.id,
			Timestamp:  time.Now().UnixMilli(),
			Index:      i,
			SourceLang: models.Lang(model.Language),
			Voice:      voice.Name,
			Source:     o.Source,
			Translated: o.Translated,
		}
		if err := c.deps.Publisher.PublishTranslation(c.ctx, ev); err != nil {
			c.logger.Error().Err(err).Int("slot", i).Msg("Failed to publish translation")
		}
	}
}
