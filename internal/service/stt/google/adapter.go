// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"live-translate-service/internal/service/stt"
)

// Config holds adapter defaults used when the stream options leave them unset.
type Config struct {
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	client *speech.Client
	cancel context.CancelFunc

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	closed bool
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: c}, nil
}

// Factory returns an stt.Factory producing Google adapters.
func Factory(cfg Config) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(ctx, cfg)
	}
}

// Start begins a streaming recognition session, sends the initial config and
// starts delivering responses to cb.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return err
	}

	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: a.streamingConfig(opts),
		},
	}
	if err := stream.Send(req); err != nil {
		cancel()
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()

	cb.OnFrame(stt.Frame{Sent: true, Payload: req.String(), At: time.Now()})
	go a.listen(stream, cb)
	return nil
}

func (a *Adapter) streamingConfig(opts stt.Options) *speechpb.StreamingRecognitionConfig {
	lang := opts.Language
	if lang == "" {
		lang = a.cfg.LanguageCode
	}
	rate := opts.SampleRateHz
	if rate == 0 {
		rate = a.cfg.SampleRateHz
	}
	encoding := opts.AudioEncoding
	if encoding == "" {
		encoding = a.cfg.AudioEncoding
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(encoding),
		SampleRateHertz:            int32(rate),
		LanguageCode:               lang,
		EnableAutomaticPunctuation: opts.SmartFormatting,
		EnableWordTimeOffsets:      opts.Timestamps,
	}
	if opts.WordAlternativesThreshold > 0 {
		rc.MaxAlternatives = 2
	}
	if opts.SpeakerLabels {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          6,
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: opts.InterimResults,
	}
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream, closed := a.stream, a.closed
	a.mu.Unlock()
	if stream == nil || closed {
		return nil
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session and releases the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stream, cancel := a.stream, a.cancel
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
	}
	if cancel != nil {
		// Give the listener a moment to drain final results before cancelling.
		time.AfterFunc(2*time.Second, cancel)
	}
	return errors.Join(err, a.client.Close())
}

// listen receives responses from Google and invokes callbacks until the
// stream ends.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || status.Code(err) == codes.Canceled {
				cb.OnFrame(stt.Frame{Close: true, At: time.Now()})
				cb.OnEnd()
				return
			}
			cb.OnError(err)
			return
		}

		cb.OnFrame(stt.Frame{Payload: resp.String(), At: time.Now()})
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			cb.OnError(errors.New(st.GetMessage()))
			return
		}
		for _, r := range resp.GetResults() {
			if msg, ok := toMessage(r); ok {
				cb.OnResult(msg)
			}
		}
	}
}

func toMessage(r *speechpb.StreamingRecognitionResult) (stt.Message, bool) {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return stt.Message{}, false
	}
	alt := alts[0]
	msg := stt.Interim(alt.GetTranscript())
	if r.GetIsFinal() {
		msg.Kind = stt.KindFinal
	}
	for _, w := range alt.GetWords() {
		if w.GetSpeakerTag() == 0 {
			continue
		}
		msg.SpeakerLabels = append(msg.SpeakerLabels, stt.SpeakerLabel{
			From:       w.GetStartTime().AsDuration().Seconds(),
			To:         w.GetEndTime().AsDuration().Seconds(),
			Speaker:    int(w.GetSpeakerTag()),
			Confidence: float64(w.GetConfidence()),
			Final:      r.GetIsFinal(),
		})
	}
	return msg, true
}

// parseAudioEncoding maps an encoding name to the Google enum, falling back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
