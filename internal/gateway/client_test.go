package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"live-translate-service/internal/service/speech"
	"live-translate-service/internal/service/translate"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost", "://bad"} {
		if _, err := New(u, 0); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestClient_Credentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathCredentials, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accessToken":"tok","serviceUrl":"https://stt.example.com"}`))
	})
	c := newTestClient(t, mux)

	creds, err := c.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.AccessToken != "tok" || creds.ServiceURL != "https://stt.example.com" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

func TestClient_Catalog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathVoices, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"modelMap": {"en": ["es", "fr"]},
			"models": [{"name": "en-US_BroadbandModel", "language": "en-US", "description": "US English", "rate": 16000}],
			"voices": [{"name": "es-ES_LauraV3Voice", "language": "es-ES", "description": "Laura"}]
		}`))
	})
	c := newTestClient(t, mux)

	cat, err := c.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if len(cat.ModelMap["en"]) != 2 || len(cat.Models) != 1 || cat.Models[0].Rate != 16000 || len(cat.Voices) != 1 {
		t.Errorf("unexpected catalog %+v", cat)
	}
}

func TestClient_Translate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathTranslate, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("text") != "hello world" || q.Get("source") != "en-US" || q.Get("voice") != "es-ES_LauraV3Voice" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"translated":"hola mundo"}`))
	})
	c := newTestClient(t, mux)

	got, err := c.Translate(context.Background(), translate.Request{
		Text: "hello world", Source: "en-US", Voice: "es-ES_LauraV3Voice",
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "hola mundo" {
		t.Errorf("translated = %q", got)
	}
}

func TestClient_TranslateErrors(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		unavailable bool
	}{
		{
			name:        "server error",
			handler:     func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusBadGateway) },
			unavailable: true,
		},
		{
			name:    "client error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "bad", http.StatusBadRequest) },
		},
		{
			name:    "missing translation",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":404}`)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Translate(context.Background(), translate.Request{Text: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, translate.ErrUnavailable); got != tt.unavailable {
				t.Errorf("errors.Is(ErrUnavailable) = %v, want %v (%v)", got, tt.unavailable, err)
			}
		})
	}
}

func TestClient_TranslateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Translate(context.Background(), translate.Request{Text: "x"}); !errors.Is(err, translate.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_Synthesize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathSynthesize, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("text") != "hola mundo" || q.Get("voice") != "es-ES_LauraV3Voice" || q.Get("accept") != "audio/wav" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if q.Get("download") == "true" {
			w.Header().Set("Content-Disposition", "attachment; filename=transcript.wav")
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF"))
	})
	c := newTestClient(t, mux)

	audio, err := c.Synthesize(context.Background(), speech.Request{
		Text:     []string{"hola", "mundo"},
		Voice:    "es-ES_LauraV3Voice",
		Accept:   "audio/wav",
		Download: true,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	defer audio.Body.Close()

	b, _ := io.ReadAll(audio.Body)
	if string(b) != "RIFF" || audio.ContentType != "audio/wav" || audio.Filename != "transcript.wav" {
		t.Errorf("unexpected audio %q %+v", b, audio)
	}
}

func TestClient_SynthesizeOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RI"))
		w.(http.Flusher).Flush()
		time.Sleep(250 * time.Millisecond)
		w.Write([]byte("FF"))
	}))
	defer srv.Close()
	c, err := New(srv.URL, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	audio, err := c.Synthesize(context.Background(), speech.Request{Text: []string{"x"}, Accept: "audio/wav"})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	defer audio.Body.Close()
	b, err := io.ReadAll(audio.Body)
	if err != nil || string(b) != "RIFF" {
		t.Errorf("expected full body, got %q err=%v", b, err)
	}
}

func TestClient_JSONCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c, err := New(srv.URL, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	if _, err := c.Credentials(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call took %v", elapsed)
	}
}

func TestClient_SynthesizeError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))

	_, err := c.Synthesize(context.Background(), speech.Request{Text: []string{"x"}})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Body != "voice not found" {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}

type stubFetcher struct {
	calls atomic.Int32
	creds Credentials
	err   error
}

func (f *stubFetcher) Credentials(context.Context) (Credentials, error) {
	f.calls.Add(1)
	return f.creds, f.err
}

func TestTokenSource(t *testing.T) {
	static := Credentials{AccessToken: "static", ServiceURL: "https://static.example.com"}

	t.Run("fetches once and caches", func(t *testing.T) {
		f := &stubFetcher{creds: Credentials{AccessToken: "fresh"}}
		ts := NewTokenSource(f, static, time.Hour)

		for i := 0; i < 3; i++ {
			creds, err := ts.Token(context.Background())
			if err != nil || creds.AccessToken != "fresh" {
				t.Fatalf("Token = %+v, %v", creds, err)
			}
			if creds.ServiceURL != static.ServiceURL {
				t.Errorf("expected static service url fallback, got %q", creds.ServiceURL)
			}
		}
		if f.calls.Load() != 1 {
			t.Errorf("expected one fetch, got %d", f.calls.Load())
		}
	})

	t.Run("falls back to static token", func(t *testing.T) {
		ts := NewTokenSource(&stubFetcher{err: errors.New("down")}, static, time.Hour)
		creds, err := ts.Token(context.Background())
		if err != nil || creds.AccessToken != "static" {
			t.Errorf("Token = %+v, %v", creds, err)
		}
	})

	t.Run("no fetcher and no static token", func(t *testing.T) {
		ts := NewTokenSource(nil, Credentials{}, time.Hour)
		if _, err := ts.Token(context.Background()); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("expected ErrNoCredentials, got %v", err)
		}
	})

	t.Run("failed refresh keeps previous token", func(t *testing.T) {
		f := &stubFetcher{creds: Credentials{AccessToken: "first"}}
		ts := NewTokenSource(f, static, time.Hour)
		ts.Token(context.Background())

		f.err = errors.New("down")
		if err := ts.Refresh(context.Background()); err == nil {
			t.Error("expected refresh error")
		}
		creds, _ := ts.Token(context.Background())
		if creds.AccessToken != "first" {
			t.Errorf("expected previous token kept, got %q", creds.AccessToken)
		}
	})
}

func TestTokenSource_Run(t *testing.T) {
	f := &stubFetcher{creds: Credentials{AccessToken: "tok"}}
	ts := NewTokenSource(f, Credentials{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for f.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected periodic refreshes")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
