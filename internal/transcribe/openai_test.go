package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/domain"
)

func writeClip(t *testing.T) Clip {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF-fake"), 0o600); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return Clip{WAVPath: path}
}

func TestOpenAITransportSendsMultipart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != DefaultOpenAIModel {
			t.Errorf("unexpected model: %q", got)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("unexpected language: %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if header.Filename != "recording.wav" || string(data) != "RIFF-fake" {
				t.Errorf("unexpected file %q: %q", header.Filename, data)
			}
		}
		_, _ = w.Write([]byte(`{"text":" hello world "}`))
	}))
	defer server.Close()

	transport := NewOpenAITransport(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1/"})
	clip := writeClip(t)
	clip.Language = "de"

	text, err := transport.Send(context.Background(), clip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestOpenAITransportClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   domain.ErrorCode
	}{
		{status: http.StatusUnauthorized, want: domain.ErrorCodeFatalBackend},
		{status: http.StatusBadRequest, want: domain.ErrorCodeFatalBackend},
		{status: http.StatusTooManyRequests, want: domain.ErrorCodeTransientBackend},
		{status: http.StatusBadGateway, want: domain.ErrorCodeTransientBackend},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"nope"}`, tc.status)
		}))
		transport := NewOpenAITransport(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
		_, err := transport.Send(context.Background(), writeClip(t))
		server.Close()

		if domain.CodeOf(err) != tc.want {
			t.Fatalf("status %d: expected %s, got %v", tc.status, tc.want, err)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Fatalf("expected body in error, got %v", err)
		}
	}
}

func TestOpenAITransportConnectionErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	transport := NewOpenAITransport(OpenAIConfig{APIKey: "k", BaseURL: url})
	_, err := transport.Send(context.Background(), writeClip(t))
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestOpenAITransportRequiresAPIKey(t *testing.T) {
	t.Parallel()

	transport := NewOpenAITransport(OpenAIConfig{})
	_, err := transport.Send(context.Background(), writeClip(t))
	if domain.CodeOf(err) != domain.ErrorCodeFatalBackend {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestOpenAITransportMalformedBodyIsFatal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer server.Close()

	transport := NewOpenAITransport(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	_, err := transport.Send(context.Background(), writeClip(t))
	if domain.CodeOf(err) != domain.ErrorCodeFatalBackend {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
