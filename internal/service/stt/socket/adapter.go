// Package socket provides a JSON-over-WebSocket recognition adapter. The
// client sends a start action with the capability flags, streams binary
// audio, and receives formatted result frames.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"live-translate-service/internal/service/stt"
)

const (
	recognizePath = "/v1/recognize"
	writeTimeout  = 10 * time.Second
)

// ErrNoServiceURL is returned when neither the options nor the adapter carry
// a service URL.
var ErrNoServiceURL = errors.New("recognition service url not configured")

// ErrClosed is returned by Start when the adapter was closed before the
// connection was established.
var ErrClosed = errors.New("recognition stream closed")

// Config holds adapter settings.
type Config struct {
	// ServiceURL is used when the stream options do not carry one.
	ServiceURL    string
	SampleRateHz  int
	HandshakeWait time.Duration
}

// Adapter implements stt.Adapter over a WebSocket connection.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.Mutex
	closing    bool
	sentData   bool
	cancelDial context.CancelFunc
	done       chan struct{}
}

// New creates a new socket adapter.
func New(cfg Config) *Adapter {
	if cfg.HandshakeWait == 0 {
		cfg.HandshakeWait = 10 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeWait, Proxy: http.ProxyFromEnvironment},
		done:   make(chan struct{}),
	}
}

// Factory returns an stt.Factory producing socket adapters.
func Factory(cfg Config) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(cfg), nil
	}
}

type startAction struct {
	Action                    string  `json:"action"`
	ContentType               string  `json:"content-type"`
	InterimResults            bool    `json:"interim_results"`
	SmartFormatting           bool    `json:"smart_formatting"`
	SpeakerLabels             bool    `json:"speaker_labels"`
	Timestamps                bool    `json:"timestamps"`
	WordAlternativesThreshold float64 `json:"word_alternatives_threshold,omitempty"`
}

// Start dials the recognition endpoint and sends the start action.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	endpoint, err := a.endpoint(opts)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return ErrClosed
	}
	a.cancelDial = cancel
	a.mu.Unlock()

	conn, resp, err := a.dialer.DialContext(dialCtx, endpoint, nil)

	a.mu.Lock()
	a.cancelDial = nil
	if a.closing {
		a.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		a.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("dial recognition endpoint: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial recognition endpoint: %w", err)
	}
	a.conn = conn
	a.mu.Unlock()

	rate := opts.SampleRateHz
	if rate == 0 {
		rate = a.cfg.SampleRateHz
	}
	if rate == 0 {
		rate = 16000
	}
	start := startAction{
		Action:                    "start",
		ContentType:               "audio/l16;rate=" + strconv.Itoa(rate),
		InterimResults:            opts.InterimResults,
		SmartFormatting:           opts.SmartFormatting,
		SpeakerLabels:             opts.SpeakerLabels,
		Timestamps:                opts.Timestamps || opts.SpeakerLabels,
		WordAlternativesThreshold: opts.WordAlternativesThreshold,
	}
	payload, err := json.Marshal(start)
	if err != nil {
		conn.Close()
		return err
	}
	if err := a.write(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return fmt.Errorf("send start action: %w", err)
	}
	cb.OnFrame(stt.Frame{Sent: true, Payload: string(payload), At: time.Now()})

	go a.listen(cb)
	return nil
}

func (a *Adapter) endpoint(opts stt.Options) (string, error) {
	base := opts.ServiceURL
	if base == "" {
		base = a.cfg.ServiceURL
	}
	if base == "" {
		return "", ErrNoServiceURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + recognizePath

	q := u.Query()
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.AccessToken != "" {
		q.Set("access_token", opts.AccessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendAudio sends one binary audio frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	if a.closing || a.conn == nil {
		a.mu.Unlock()
		return nil
	}
	a.sentData = true
	a.mu.Unlock()
	return a.write(websocket.BinaryMessage, audio)
}

// Close sends the stop action and closes the connection once the server has
// flushed its remaining results, or after a short grace period. A dial in
// progress is cancelled and its connection closed when it completes.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	conn, cancel := a.conn, a.cancelDial
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	err := a.write(websocket.TextMessage, []byte(`{"action":"stop"}`))
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
	}
	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	a.writeMu.Unlock()
	return errors.Join(err, conn.Close())
}

func (a *Adapter) write(messageType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteMessage(messageType, data)
}

type serverFrame struct {
	State string `json:"state"`
	Error string `json:"error"`
}

// listen reads server frames until the connection ends.
func (a *Adapter) listen(cb stt.Callback) {
	defer close(a.done)
	reportedBinary := false
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			a.mu.Unlock()

			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				cb.OnFrame(stt.Frame{Close: true, Code: ce.Code, Payload: ce.Text, At: time.Now()})
			}
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				cb.OnEnd()
				return
			}
			cb.OnError(err)
			cb.OnEnd()
			return
		}

		a.mu.Lock()
		sent := a.sentData
		a.mu.Unlock()
		if sent && !reportedBinary {
			reportedBinary = true
			cb.OnFrame(stt.Frame{Sent: true, Binary: true, At: time.Now()})
		}
		cb.OnFrame(stt.Frame{Payload: string(data), At: time.Now()})

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			cb.OnError(fmt.Errorf("decode server frame: %w", err))
			continue
		}
		if f.Error != "" {
			cb.OnError(errors.New(f.Error))
			continue
		}
		if f.State != "" {
			continue
		}

		msg, err := stt.ParseMessage(data)
		if err != nil {
			if errors.Is(err, stt.ErrEmptyMessage) {
				continue
			}
			cb.OnError(err)
			continue
		}
		cb.OnResult(msg)
	}
}
