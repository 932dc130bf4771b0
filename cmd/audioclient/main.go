package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"live-translate-service/internal/service/speech"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms chunks, sized from the sample rate
const chunkIntervalMs = 100

type serverMessage struct {
	Type        string `json:"type"`
	Generation  uint64 `json:"generation"`
	ContentType string `json:"contentType"`
	Error       string `json:"error"`
	Snapshot    *struct {
		State      string `json:"state"`
		Transcript []struct {
			Text  string `json:"text"`
			Final bool   `json:"final"`
		} `json:"transcript"`
		Slots []struct {
			Translated     string `json:"translated"`
			HasTranslation bool   `json:"hasTranslation"`
		} `json:"slots"`
		Error string `json:"error"`
	} `json:"snapshot"`
}

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	serverAddr := flag.String("server", "http://localhost:8080", "Service base URL")
	model := flag.String("model", "en-US_BroadbandModel", "Source model")
	voice := flag.String("voice", "", "Target voice; empty keeps the default candidate")
	translate := flag.Bool("translate", true, "Turn translation on")
	accept := flag.String("accept", "audio/wav", "Formats this client can play, comma-separated")
	outDir := flag.String("out", "", "Directory to save received audio; empty discards it")
	wait := flag.Duration("wait", 5*time.Second, "How long to wait for audio after streaming")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)
	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}

	base := strings.TrimRight(*serverAddr, "/")
	put(base+"/v1/selection/model", map[string]any{"name": *model})
	if *voice != "" {
		put(base+"/v1/selection/voice", map[string]any{"name": *voice})
	}
	put(base+"/v1/translating", map[string]any{"enabled": *translate})

	wsURL, err := url.Parse(base + "/v1/audio")
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.RawQuery = url.Values{"accept": {*accept}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", wsURL)

	done := make(chan struct{})
	go receive(conn, *outDir, done)

	if err := conn.WriteJSON(map[string]any{"type": "start", "sampleRateHz": sampleRate}); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	chunkSize := int(sampleRate) * int(bitsPerSample/8) * int(numChannels) * chunkIntervalMs / 1000
	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()
	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}
		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		log.Fatalf("Failed to stop: %v", err)
	}

	select {
	case <-done:
	case <-time.After(*wait):
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.Println("Done")
}

func put(u string, body any) {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("PUT %s failed: %v", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		log.Fatalf("PUT %s: %d %s", u, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// receive prints transcript changes and saves audio clips until the
// connection closes.
func receive(conn *websocket.Conn, outDir string, done chan<- struct{}) {
	defer close(done)
	var pending *serverMessage
	var lastLine string
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			if pending == nil {
				continue
			}
			log.Printf("Received audio generation=%d (%s, %d bytes)", pending.Generation, pending.ContentType, len(data))
			if outDir != "" {
				save(outDir, pending, data)
			}
			pending = nil
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Bad message: %v", err)
			continue
		}
		switch msg.Type {
		case "audio":
			pending = &msg
		case "error":
			log.Printf("Server error: %s", msg.Error)
		case "snapshot":
			if msg.Snapshot == nil {
				continue
			}
			line := render(msg)
			if line != lastLine {
				fmt.Println(line)
				lastLine = line
			}
		}
	}
}

func render(msg serverMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", msg.Snapshot.State)
	for _, e := range msg.Snapshot.Transcript {
		mark := "~"
		if e.Final {
			mark = "."
		}
		fmt.Fprintf(&b, " %s%s", e.Text, mark)
	}
	for _, s := range msg.Snapshot.Slots {
		if s.HasTranslation {
			fmt.Fprintf(&b, " | %s", s.Translated)
		}
	}
	if msg.Snapshot.Error != "" {
		fmt.Fprintf(&b, " (error: %s)", msg.Snapshot.Error)
	}
	return b.String()
}

func save(dir string, msg *serverMessage, data []byte) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("Failed to create %s: %v", dir, err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("transcript-%d.%s", msg.Generation, speech.FileExtension(msg.ContentType)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("Failed to save %s: %v", path, err)
		return
	}
	log.Printf("Saved %s", path)
}
