package domain

import "time"

// SessionState models the dictation lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateRecording    SessionState = "recording"
	SessionStateTranscribing SessionState = "transcribing"
	SessionStateFailed       SessionState = "failed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady                  SessionStateReason = "ready"
	SessionReasonRecordingStarted       SessionStateReason = "recording_started"
	SessionReasonTranscribing           SessionStateReason = "transcribing"
	SessionReasonTranscriptDelivered    SessionStateReason = "transcript_delivered"
	SessionReasonTranscriptDeliveryFail SessionStateReason = "transcript_delivery_failed"
	SessionReasonRecordingDiscarded     SessionStateReason = "recording_discarded"
	SessionReasonNoTranscript           SessionStateReason = "no_transcript"
	SessionReasonCaptureFailed          SessionStateReason = "capture_failed"
	SessionReasonTranscriptionFailed    SessionStateReason = "transcription_failed"
	SessionReasonShutdown               SessionStateReason = "shutdown"
)

// BackendKind selects the transcription engine.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// Valid reports whether k names a known backend.
func (k BackendKind) Valid() bool {
	return k == BackendLocal || k == BackendRemote
}

// SessionSettings is the per-session configuration snapshot.
type SessionSettings struct {
	Backend          BackendKind
	Model            string
	Language         string
	RestoreClipboard bool
	AutoPaste        bool
	DiscardDuration  time.Duration
}

// TranscriptionRequest is handed to a backend once per session.
type TranscriptionRequest struct {
	SessionID string
	Audio     *AudioBuffer
	Language  string
	Model     string
	Backend   BackendKind
}

// TranscriptionResult is the outcome of a backend call.
type TranscriptionResult struct {
	Text     string `json:"text"`
	Backend  string `json:"backend"`
	Attempts int    `json:"attempts"`
	Success  bool   `json:"success"`
}

// DeliveryResult reports how a transcript reached the user.
type DeliveryResult struct {
	Copied   bool `json:"copied"`
	Pasted   bool `json:"pasted"`
	Restored bool `json:"restored"`
}

// ModelStatus tracks a local model file.
type ModelStatus string

const (
	ModelMissing     ModelStatus = "missing"
	ModelDownloading ModelStatus = "downloading"
	ModelReady       ModelStatus = "ready"
	ModelCorrupt     ModelStatus = "corrupt"
)

// ModelDescriptor identifies a cached model file.
type ModelDescriptor struct {
	Name   string      `json:"name"`
	Path   string      `json:"path"`
	URL    string      `json:"url"`
	Size   int64       `json:"size,omitempty"`
	SHA256 string      `json:"sha256,omitempty"`
	Status ModelStatus `json:"status"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}
