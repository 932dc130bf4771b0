package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/transcript"
)

// Slot is the translation state of one window position.
type Slot struct {
	Source         string `json:"source"`
	Translated     string `json:"translated,omitempty"`
	HasTranslation bool   `json:"hasTranslation"`
}

// Config bounds a pass.
type Config struct {
	// Timeout bounds each translation request. Zero means no bound.
	Timeout time.Duration
	// MaxConcurrency bounds in-flight requests per pass. Zero means no bound.
	MaxConcurrency int
	// Platform is sent with every secondary translator request.
	Platform string
}

// PassInput is the input of one pass.
type PassInput struct {
	Window transcript.Window
	// Source is the source model's language tag.
	Source string
	// Voice is the target voice name.
	Voice string
}

// Outcome is the state of one slot after a pass.
type Outcome struct {
	Source     string
	Translated string
	Has        bool
	// Fresh is set when the translation was produced by this pass.
	Fresh bool
	// Stale is set when a result arrived after its slot changed or was reset.
	Stale bool
	Err   error
}

// Result is the result of one pass, index aligned with its window.
type Result struct {
	Outcomes []Outcome
	// Requests is the number of translation requests issued.
	Requests int
	// Superseded is set when Reset was called while the pass ran.
	Superseded bool
}

// Translated returns the translated text of every slot that has one, in
// index order.
func (r Result) Translated() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Has {
			out = append(out, o.Translated)
		}
	}
	return out
}

// Delta owns the slot history. Safe for concurrent use; concurrent passes
// never re-request a source text that another pass already requested.
type Delta struct {
	primary   Translator
	secondary Translator
	cfg       Config
	metrics   *metrics.Metrics

	mu    sync.Mutex
	slots []Slot
	epoch uint64
}

// NewDelta creates a translator with an empty history. secondary may be nil.
func NewDelta(primary, secondary Translator, cfg Config, m *metrics.Metrics) *Delta {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Delta{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		metrics:   m,
	}
}

type job struct {
	index int
	text  string
}

// Pass translates the window against the slot history and returns once
// every request issued by this pass has resolved.
func (d *Delta) Pass(ctx context.Context, in PassInput) Result {
	ctx, span := tracer.Start(ctx, "translate.Pass", trace.WithAttributes(
		attribute.Int("window.len", in.Window.Len()),
		attribute.String("source", in.Source),
		attribute.String("voice", in.Voice),
	))
	defer span.End()

	passThrough := models.SameLanguage(in.Source, in.Voice)
	outcomes := make([]Outcome, in.Window.Len())
	var jobs []job

	d.mu.Lock()
	epoch := d.epoch
	if len(d.slots) > len(outcomes) {
		d.slots = append([]Slot(nil), d.slots[:len(outcomes)]...)
	}
	for i, e := range in.Window.All() {
		if i < len(d.slots) && d.slots[i].Source == e.Text {
			s := d.slots[i]
			outcomes[i] = Outcome{Source: s.Source, Translated: s.Translated, Has: s.HasTranslation}
			continue
		}

		slot := Slot{Source: e.Text}
		switch {
		case passThrough:
			slot.Translated, slot.HasTranslation = e.Text, true
		case strings.TrimSpace(e.Text) != "":
			jobs = append(jobs, job{index: i, text: e.Text})
		}
		d.put(i, slot)
		outcomes[i] = Outcome{Source: slot.Source, Translated: slot.Translated, Has: slot.HasTranslation, Fresh: slot.HasTranslation}
	}
	d.mu.Unlock()

	span.SetAttributes(attribute.Int("requests", len(jobs)), attribute.Bool("passThrough", passThrough))

	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for _, j := range jobs {
		g.Go(func() error {
			req := Request{Text: j.text, Source: in.Source, Voice: in.Voice}
			translated, err := d.translate(ctx, j.index, req)
			outcomes[j.index] = d.commit(epoch, j.index, j.text, translated, err)
			return nil
		})
	}
	_ = g.Wait()

	d.mu.Lock()
	superseded := d.epoch != epoch
	d.mu.Unlock()

	return Result{Outcomes: outcomes, Requests: len(jobs), Superseded: superseded}
}

// put sets slot i. Slots are filled in index order, so i is at most len.
func (d *Delta) put(i int, s Slot) {
	if i < len(d.slots) {
		d.slots[i] = s
		return
	}
	d.slots = append(d.slots, s)
}

// commit writes a result back if its slot still holds the same source.
func (d *Delta) commit(epoch uint64, index int, text, translated string, err error) Outcome {
	if err != nil {
		log.Debug().Err(err).Int("slot", index).Msg("Translation failed")
		return Outcome{Source: text, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch != epoch || index >= len(d.slots) || d.slots[index].Source != text {
		return Outcome{Source: text, Stale: true}
	}
	d.slots[index] = Slot{Source: text, Translated: translated, HasTranslation: true}
	return Outcome{Source: text, Translated: translated, Has: true, Fresh: true}
}

func (d *Delta) translate(ctx context.Context, index int, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "translate.Slot", trace.WithAttributes(attribute.Int("slot", index)))
	defer span.End()

	provider := "primary"
	out, err := d.call(ctx, d.primary, provider, req)
	if errors.Is(err, ErrUnavailable) && d.secondary != nil {
		span.AddEvent("fallback")
		provider = "secondary"
		req.Platform = d.cfg.Platform
		out, err = d.call(ctx, d.secondary, provider, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &SlotError{Index: index, Provider: provider, Err: err}
	}
	return out, nil
}

func (d *Delta) call(ctx context.Context, t Translator, provider string, req Request) (string, error) {
	if t == nil {
		return "", ErrUnavailable
	}
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := t.Translate(ctx, req)
	d.metrics.RecordTranslation(provider, err, time.Since(start).Seconds())
	return out, err
}

// Slots returns a copy of the slot history.
func (d *Delta) Slots() []Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Slot(nil), d.slots...)
}

// Reset clears the history. Results of passes in flight are discarded.
func (d *Delta) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = nil
	d.epoch++
}
