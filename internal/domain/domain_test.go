package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAudioBufferDuration(t *testing.T) {
	t.Parallel()

	buf := NewAudioBuffer(16000, 2)
	buf.Append(make([]int16, 16000*2*3)...)
	if got := buf.Duration(); got != 3*time.Second {
		t.Fatalf("unexpected duration: %s", got)
	}

	var empty *AudioBuffer
	if empty.Duration() != 0 {
		t.Fatalf("expected zero duration for nil buffer")
	}
}

func TestNewAudioBufferDefaults(t *testing.T) {
	t.Parallel()

	buf := NewAudioBuffer(0, -1)
	if buf.SampleRate != 16000 || buf.Channels != 1 {
		t.Fatalf("unexpected defaults: %+v", buf)
	}
}

func TestPeakDBFS(t *testing.T) {
	t.Parallel()

	if got := PeakDBFS(make([]int16, 10)); got != MinDBFS {
		t.Fatalf("expected silence floor, got %f", got)
	}
	if got := PeakDBFS([]int16{-32768}); got != 0 {
		t.Fatalf("expected full scale, got %f", got)
	}
	if got := PeakDBFS([]int16{16384}); got > -6 || got < -6.1 {
		t.Fatalf("expected about -6 dBFS, got %f", got)
	}
}

func TestErrorCodeSurvivesWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("503")
	err := fmt.Errorf("attempt 2: %w", TransientBackendError("transcribe", base))
	if !IsTransient(err) {
		t.Fatalf("expected transient error")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to be preserved")
	}
	if CodeOf(FatalBackendError("auth", nil)) != ErrorCodeFatalBackend {
		t.Fatalf("unexpected code")
	}
	if CodeOf(base) != "" {
		t.Fatalf("expected no code for plain error")
	}
}

func TestBackendKindValid(t *testing.T) {
	t.Parallel()

	if !BackendLocal.Valid() || !BackendRemote.Valid() {
		t.Fatalf("expected known backends to be valid")
	}
	if BackendKind("cloud").Valid() {
		t.Fatalf("expected unknown backend to be invalid")
	}
}
