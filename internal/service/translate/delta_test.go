package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"live-translate-service/internal/observability/metrics"
	"live-translate-service/internal/service/transcript"
)

type countingTranslator struct {
	mu       sync.Mutex
	calls    []Request
	err      error
	fn       func(ctx context.Context, req Request) (string, error)
	inFlight int32
	maxSeen  int32
}

func (c *countingTranslator) Translate(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&c.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&c.maxSeen, seen, n) {
			break
		}
	}

	if c.fn != nil {
		return c.fn(ctx, req)
	}
	if c.err != nil {
		return "", c.err
	}
	return strings.ToUpper(req.Text), nil
}

func (c *countingTranslator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func finals(texts ...string) transcript.Window {
	entries := make([]transcript.Entry, len(texts))
	for i, t := range texts {
		entries[i] = transcript.Entry{Text: t, Final: true}
	}
	return transcript.NewWindow(entries...)
}

func enToEs(w transcript.Window) PassInput {
	return PassInput{Window: w, Source: "en-US", Voice: "es-ES_LauraV3Voice"}
}

func TestPass_TranslatesEverySlot(t *testing.T) {
	tr := &countingTranslator{}
	d := NewDelta(tr, nil, Config{}, testMetrics())

	res := d.Pass(context.Background(), enToEs(finals("hello", "world")))

	if res.Requests != 2 || tr.count() != 2 {
		t.Fatalf("expected 2 requests, got %d (%d calls)", res.Requests, tr.count())
	}
	for i, want := range []string{"HELLO", "WORLD"} {
		o := res.Outcomes[i]
		if !o.Has || !o.Fresh || o.Translated != want {
			t.Errorf("outcome %d = %+v, want fresh %q", i, o, want)
		}
	}
	if got := res.Translated(); strings.Join(got, " ") != "HELLO WORLD" {
		t.Errorf("Translated() = %v", got)
	}
	if tr.calls[0].Voice != "es-ES_LauraV3Voice" || tr.calls[0].Source != "en-US" {
		t.Errorf("unexpected request %+v", tr.calls[0])
	}
}

func TestPass_Idempotent(t *testing.T) {
	tr := &countingTranslator{}
	d := NewDelta(tr, nil, Config{}, testMetrics())
	in := enToEs(finals("hello", "world"))

	d.Pass(context.Background(), in)
	res := d.Pass(context.Background(), in)

	if res.Requests != 0 || tr.count() != 2 {
		t.Errorf("expected no new requests, got %d (%d calls total)", res.Requests, tr.count())
	}
	for i, o := range res.Outcomes {
		if !o.Has || o.Fresh {
			t.Errorf("outcome %d = %+v, want reused translation", i, o)
		}
	}
}

func TestPass_OnlyChangedSlotsRequested(t *testing.T) {
	tr := &countingTranslator{}
	d := NewDelta(tr, nil, Config{}, testMetrics())
	ctx := context.Background()

	d.Pass(ctx, enToEs(transcript.NewWindow(
		transcript.Entry{Text: "hello", Final: true},
		transcript.Entry{Text: "wor"},
	)))
	res := d.Pass(ctx, enToEs(finals("hello", "world")))

	if res.Requests != 1 {
		t.Fatalf("expected 1 request, got %d", res.Requests)
	}
	if tr.calls[len(tr.calls)-1].Text != "world" {
		t.Errorf("expected 'world' requested, got %+v", tr.calls[len(tr.calls)-1])
	}
	if !res.Outcomes[1].Fresh || res.Outcomes[0].Fresh {
		t.Errorf("unexpected freshness %+v", res.Outcomes)
	}
}

func TestPass_Truncates(t *testing.T) {
	d := NewDelta(&countingTranslator{}, nil, Config{}, testMetrics())
	ctx := context.Background()

	d.Pass(ctx, enToEs(finals("a", "b", "c")))
	if len(d.Slots()) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(d.Slots()))
	}

	res := d.Pass(ctx, enToEs(finals("a")))
	if len(d.Slots()) > 1 || len(res.Outcomes) != 1 {
		t.Errorf("expected history truncated to 1, got %d slots", len(d.Slots()))
	}

	d.Pass(ctx, enToEs(finals()))
	if len(d.Slots()) != 0 {
		t.Errorf("expected empty history, got %d slots", len(d.Slots()))
	}
}

func TestPass_SameLanguagePassThrough(t *testing.T) {
	tr := &countingTranslator{}
	d := NewDelta(tr, nil, Config{}, testMetrics())

	res := d.Pass(context.Background(), PassInput{
		Window: finals("hola", "mundo"),
		Source: "es-ES",
		Voice:  "es-ES_EnriqueV3Voice",
	})

	if tr.count() != 0 || res.Requests != 0 {
		t.Errorf("expected no network calls, got %d", tr.count())
	}
	for i, want := range []string{"hola", "mundo"} {
		if o := res.Outcomes[i]; o.Translated != want || !o.Has {
			t.Errorf("outcome %d = %+v, want %q", i, o, want)
		}
	}
}

func TestPass_EmptyTextNotRequested(t *testing.T) {
	tr := &countingTranslator{}
	d := NewDelta(tr, nil, Config{}, testMetrics())

	res := d.Pass(context.Background(), enToEs(transcript.NewWindow(transcript.Entry{Text: " "})))
	if tr.count() != 0 || res.Outcomes[0].Has {
		t.Errorf("expected blank slot skipped, got %+v", res.Outcomes[0])
	}
}

func TestPass_FallbackOnUnavailable(t *testing.T) {
	primary := &countingTranslator{err: fmt.Errorf("dial: %w", ErrUnavailable)}
	secondary := &countingTranslator{fn: func(_ context.Context, req Request) (string, error) {
		if req.Text == "bad" {
			return "", errors.New("quota exceeded")
		}
		return "fallback:" + req.Text, nil
	}}
	d := NewDelta(primary, secondary, Config{Platform: "live-translate"}, testMetrics())

	res := d.Pass(context.Background(), enToEs(finals("good", "bad")))

	if o := res.Outcomes[0]; o.Translated != "fallback:good" || !o.Has {
		t.Errorf("outcome 0 = %+v", o)
	}
	o := res.Outcomes[1]
	if o.Has {
		t.Errorf("expected failed slot to stay absent, got %+v", o)
	}
	var se *SlotError
	if !errors.As(o.Err, &se) || se.Provider != "secondary" || se.Index != 1 {
		t.Errorf("expected secondary SlotError, got %v", o.Err)
	}
	for _, req := range secondary.calls {
		if req.Platform != "live-translate" {
			t.Errorf("expected platform tag, got %+v", req)
		}
	}
}

func TestPass_NoFallbackOnOtherErrors(t *testing.T) {
	primary := &countingTranslator{err: errors.New("bad request")}
	secondary := &countingTranslator{}
	d := NewDelta(primary, secondary, Config{}, testMetrics())

	res := d.Pass(context.Background(), enToEs(finals("hello")))

	if secondary.count() != 0 {
		t.Errorf("secondary must only run when primary is unavailable")
	}
	if res.Outcomes[0].Err == nil || res.Outcomes[0].Has {
		t.Errorf("expected slot failure, got %+v", res.Outcomes[0])
	}
	// The failed slot keeps its source, so the next pass does not retry it.
	if again := d.Pass(context.Background(), enToEs(finals("hello"))); again.Requests != 0 {
		t.Errorf("expected no retry, got %d requests", again.Requests)
	}
}

func TestPass_Timeout(t *testing.T) {
	tr := &countingTranslator{fn: func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := NewDelta(tr, nil, Config{Timeout: 10 * time.Millisecond}, testMetrics())

	res := d.Pass(context.Background(), enToEs(finals("slow")))

	if !errors.Is(res.Outcomes[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", res.Outcomes[0].Err)
	}
}

func TestPass_ResetDiscardsInFlightResults(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tr := &countingTranslator{fn: func(_ context.Context, req Request) (string, error) {
		close(started)
		<-release
		return "late", nil
	}}
	d := NewDelta(tr, nil, Config{}, testMetrics())

	done := make(chan Result)
	go func() {
		done <- d.Pass(context.Background(), enToEs(finals("hello")))
	}()

	<-started
	d.Reset()
	close(release)
	res := <-done

	if !res.Superseded || !res.Outcomes[0].Stale || res.Outcomes[0].Has {
		t.Errorf("expected stale result, got %+v", res)
	}
	if len(d.Slots()) != 0 {
		t.Errorf("expected history to stay empty, got %+v", d.Slots())
	}
}

func TestCommit_DiscardsChangedSource(t *testing.T) {
	d := NewDelta(&countingTranslator{}, nil, Config{}, testMetrics())
	d.slots = []Slot{{Source: "hello world"}}

	o := d.commit(0, 0, "hello", "HOLA", nil)
	if !o.Stale {
		t.Errorf("expected stale outcome, got %+v", o)
	}
	if d.slots[0].HasTranslation {
		t.Errorf("slot must keep the newer source untranslated")
	}

	o = d.commit(0, 3, "hello", "HOLA", nil)
	if !o.Stale {
		t.Errorf("expected out-of-range slot to be stale")
	}
}

func TestPass_MaxConcurrency(t *testing.T) {
	tr := &countingTranslator{fn: func(_ context.Context, req Request) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return req.Text, nil
	}}
	d := NewDelta(tr, nil, Config{MaxConcurrency: 2}, testMetrics())

	d.Pass(context.Background(), enToEs(finals("a", "b", "c", "d", "e", "f")))

	if tr.count() != 6 {
		t.Fatalf("expected 6 calls, got %d", tr.count())
	}
	if peak := atomic.LoadInt32(&tr.maxSeen); peak > 2 {
		t.Errorf("expected at most 2 in flight, saw %d", peak)
	}
}
