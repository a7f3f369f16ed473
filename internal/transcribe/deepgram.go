package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"murmur/internal/audio"
	"murmur/internal/domain"
)

const (
	DefaultDeepgramBaseURL = "https://api.deepgram.com/v1"
	DefaultDeepgramModel   = "nova-2"

	deepgramChunkBytes = 8192
)

// DeepgramConfig controls the Deepgram live websocket transport.
type DeepgramConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	SmartFormat bool
	Dialer      *websocket.Dialer
}

// DeepgramTransport streams a finished recording over the live endpoint and
// collects the final results.
type DeepgramTransport struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

func NewDeepgramTransport(cfg DeepgramConfig) *DeepgramTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDeepgramBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepgramModel
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &DeepgramTransport{cfg: cfg, dialer: dialer}
}

func (t *DeepgramTransport) Name() string { return "deepgram" }

func (t *DeepgramTransport) Send(ctx context.Context, clip Clip) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", domain.FatalBackendError("deepgram", errors.New("api key is not configured"))
	}
	if clip.Audio == nil {
		return "", domain.FatalBackendError("deepgram", audio.ErrEmptyBuffer)
	}

	wsURL, err := buildListenURL(t.cfg, clip)
	if err != nil {
		return "", domain.FatalBackendError("deepgram", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return "", classifyStatus("deepgram: connect", resp.StatusCode, string(body))
		}
		return "", classifyTransportErr(ctx, "deepgram: connect", err)
	}

	s := &streamingSession{conn: conn, aggregator: newTranscriptAggregator()}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeAll(audio.PCMBytes(clip.Audio))
	}()

	s.readLoop()
	<-writeDone

	if err := s.waitErr(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return s.aggregator.Text(), nil
}

type streamingSession struct {
	conn       *websocket.Conn
	aggregator *transcriptAggregator

	errMu sync.Mutex
	err   error
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeAll(pcm []byte) {
	for len(pcm) > 0 {
		n := min(deepgramChunkBytes, len(pcm))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm[:n]); err != nil {
			s.setErr(domain.TransientBackendError("deepgram: send audio", err))
			return
		}
		pcm = pcm[n:]
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(domain.TransientBackendError("deepgram: close stream", err))
	}
}

// readLoop consumes results until the server closes the stream.
func (s *streamingSession) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return
			}
			s.setErr(domain.TransientBackendError("deepgram: read result", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(domain.FatalBackendError("deepgram", errors.New(message)))
			return
		case strings.EqualFold(response.Type, "Metadata"):
			// Sent after the last result once CloseStream is processed.
			return
		}

		if transcript := extractTranscript(response); transcript != "" {
			s.aggregator.Add(transcript, response.IsFinal || response.SpeechFinal)
		}
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg DeepgramConfig, clip Clip) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultDeepgramBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate, channels := 16000, 1
	if clip.Audio != nil {
		sampleRate, channels = clip.Audio.SampleRate, clip.Audio.Channels
	}
	model := clip.Model
	if model == "" {
		model = cfg.Model
	}

	query := listenURL.Query()
	query.Set("model", model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("interim_results", "false")
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if clip.Language != "" {
		query.Set("language", clip.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
