// Transcript Viewer - follows the transcript and translation topics and
// relays every event to WebSocket clients.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/logging"
)

// event is the union of transcript and translation events.
type event struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	StreamID   string `json:"streamId,omitempty"`
	Index      int    `json:"index"`
	Text       string `json:"text,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Source     string `json:"source,omitempty"`
	Translated string `json:"translated,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// hub manages WebSocket connections.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client connected")
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client disconnected")
}

func (h *hub) broadcast(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn().Err(err).Msg("Write error")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		h.add(conn)

		// Keep connection alive, handle disconnects
		go func() {
			defer h.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consume(ctx context.Context, h *hub, brokers []string, topic string, since time.Duration) {
	// Partition reader without a consumer group so every viewer sees everything.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var ev event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("JSON unmarshal error")
			continue
		}
		l := log.Info().Str("type", ev.EventType).Str("sessionId", ev.SessionID).Int("index", ev.Index)
		if ev.EventType == models.EventTranslation {
			l.Str("voice", ev.Voice).Msg(truncate(ev.Translated, 60))
		} else {
			l.Msg(truncate(ev.Text, 60))
		}
		h.broadcast(ev)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTranscripts := flag.String("topic-transcripts", "session.transcript", "Transcript topic")
	topicTranslations := flag.String("topic-translations", "session.translation", "Translation topic")
	since := flag.Duration("since", time.Hour, "How far back to start reading")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	cfg.Service = "transcript-viewer"
	logging.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()
	brokerList := splitList(*brokers)
	go consume(ctx, h, brokerList, *topicTranscripts, *since)
	go consume(ctx, h, brokerList, *topicTranslations, *since)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info().Str("port", *port).Strs("brokers", brokerList).Msg("Transcript viewer starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
