package protocol

import "time"

// Transcript is decoded text broadcast on the bus. Source reports which
// pipeline produced it, "file" for whole-file jobs or "stream" for live
// chunks.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is a human-readable progress note for a session, e.g. when a
// file job starts or a recording is persisted.
type Status struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioLevel carries the most recent RMS level of the capture stream.
type AudioLevel struct {
	SessionID string    `json:"session_id"`
	RMS       float64   `json:"rms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFile   = "asr.transcript.file"
	SubjectTranscriptStream = "asr.transcript.stream"
	SubjectStatus           = "asr.status"
	SubjectAudioLevel       = "audio.level"
)
