package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-translate-service/internal/service/pipeline"
	"live-translate-service/internal/service/playback"
	"live-translate-service/internal/service/session"
	"live-translate-service/internal/service/speech"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Client to server control messages. Binary messages carry audio.
type clientMessage struct {
	Type         string `json:"type"` // start, stop, audioError
	SampleRateHz int    `json:"sampleRateHz,omitempty"`
	Generation   uint64 `json:"generation,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Server to client messages. An "audio" message is followed by one binary
// message holding the clip.
type serverMessage struct {
	Type        string             `json:"type"` // snapshot, audio, error
	Snapshot    *pipeline.Snapshot `json:"snapshot,omitempty"`
	Generation  uint64             `json:"generation,omitempty"`
	ContentType string             `json:"contentType,omitempty"`
	Filename    string             `json:"filename,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// wsClient is one connected audio client. It is a playback.Sink.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	ctrl   *pipeline.Controller
	logger zerolog.Logger

	writeMu sync.Mutex
	// streamed is set once the client sent audio.
	streamed bool
}

// acceptProber reports the formats listed in the accept query parameters.
func acceptProber(r *http.Request) (speech.Prober, bool) {
	formats := map[string]bool{}
	for _, v := range r.URL.Query()["accept"] {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				formats[f] = true
			}
		}
	}
	if len(formats) == 0 {
		return nil, false
	}
	return speech.ProberFunc(func(format string) bool { return formats[format] }), true
}

func (h *handlers) audio(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		ctrl: h.ctrl,
	}
	c.logger = log.With().Str("component", "audio-ws").Str("clientId", c.id).Logger()
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("Audio client connected")

	if p, ok := acceptProber(r); ok {
		h.ctrl.SetProber(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	snaps, unsubscribe := h.ctrl.Subscribe()
	detach := h.hub.Attach(c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, snaps)
	}()

	c.readLoop(ctx)

	detach()
	unsubscribe()
	cancel()
	wg.Wait()
	conn.Close()

	if c.streamed {
		if err := h.ctrl.StopListening(); err != nil {
			c.logger.Warn().Err(err).Msg("Stopping stream after disconnect")
		}
	}
	c.logger.Info().Msg("Audio client disconnected")
}

func (c *wsClient) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Audio client read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.streamed = true
			if err := c.ctrl.SendAudio(ctx, payload); err != nil {
				if errors.Is(err, session.ErrNotListening) {
					c.logger.Debug().Msg("Dropping audio while idle")
					continue
				}
				c.sendError(err)
			}
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.sendError(err)
				continue
			}
			c.handleControl(ctx, msg)
		}
	}
}

func (c *wsClient) handleControl(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "start":
		if err := c.ctrl.StartListening(ctx, msg.SampleRateHz); err != nil {
			c.sendError(err)
		}
	case "stop":
		if err := c.ctrl.StopListening(); err != nil {
			c.sendError(err)
		}
	case "audioError":
		c.ctrl.ReportAudioError(msg.Generation, errors.New(msg.Message))
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown control message")
	}
}

func (c *wsClient) writeLoop(ctx context.Context, snaps <-chan pipeline.Snapshot) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	initial := c.ctrl.Snapshot()
	if err := c.writeJSON(serverMessage{Type: "snapshot", Snapshot: &initial}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.writeJSON(serverMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				c.logger.Debug().Err(err).Msg("Snapshot write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PlayClip implements playback.Sink.
func (c *wsClient) PlayClip(ctx context.Context, clip playback.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header, err := json.Marshal(serverMessage{
		Type:        "audio",
		Generation:  clip.Generation,
		ContentType: clip.ContentType,
		Filename:    clip.Filename,
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, header); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, clip.Data)
}

func (c *wsClient) sendError(err error) {
	msg := err.Error()
	var se *session.Error
	if errors.As(err, &se) {
		msg = se.Message
	}
	if werr := c.writeJSON(serverMessage{Type: "error", Error: msg}); werr != nil {
		c.logger.Debug().Err(werr).Msg("Error write failed")
	}
}

func (c *wsClient) writeJSON(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}
