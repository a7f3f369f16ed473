package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"murmur/internal/domain"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini-transcribe"
)

// OpenAIConfig configures an OpenAI-compatible transcription endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// OpenAITransport posts WAV audio to {base}/audio/transcriptions.
type OpenAITransport struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAITransport(cfg OpenAIConfig) *OpenAITransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient()
	}
	return &OpenAITransport{cfg: cfg, client: client}
}

// NewHTTPClient returns a pooled client with HTTP/2 enabled. Attempt
// deadlines come from the request context, so the client has no timeout.
func NewHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	_ = http2.ConfigureTransport(tr)
	return &http.Client{Transport: tr}
}

func (t *OpenAITransport) Name() string { return "openai" }

type openAIResponse struct {
	Text string `json:"text"`
}

func (t *OpenAITransport) Send(ctx context.Context, clip Clip) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", domain.FatalBackendError("openai", fmt.Errorf("api key is not configured"))
	}

	model := clip.Model
	if model == "" {
		model = t.cfg.Model
	}

	body, contentType, err := buildMultipart(clip.WAVPath, model, clip.Language)
	if err != nil {
		return "", domain.FatalBackendError("openai: build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", domain.FatalBackendError("openai: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", classifyTransportErr(ctx, "openai", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classifyTransportErr(ctx, "openai: read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus("openai", resp.StatusCode, string(payload))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", domain.FatalBackendError("openai: decode response", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func buildMultipart(wavPath, model, language string) (*bytes.Buffer, string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "recording.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
