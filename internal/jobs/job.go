package jobs

import (
	"errors"
	"time"
)

// Job status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status write would move a job
	// backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidSourceReference is returned when no media identifier can be
	// extracted from a submitted source reference
	ErrInvalidSourceReference = errors.New("invalid source reference")

	// ErrSessionNotFound is returned when a practice session does not exist
	ErrSessionNotFound = errors.New("session not found")
)

// ChordSegment is one chord span within the analyzed recording.
type ChordSegment struct {
	Chord        string  `json:"chord" db:"chord"`
	StartSeconds float64 `json:"start_seconds" db:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds" db:"end_seconds"`
	Confidence   float64 `json:"confidence" db:"confidence"`
}

// AnalysisResult is the derived musical metadata for a completed job.
type AnalysisResult struct {
	Tempo  float64        `json:"tempo"`
	Key    string         `json:"key"`
	Chords []ChordSegment `json:"chords"`
}

// ProcessingJob is the record of one analysis job. Sequence increases on
// every state write and orders broadcasts for the job.
type ProcessingJob struct {
	JobID              string          `json:"job_id"`
	Status             string          `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStep        string          `json:"current_step"`
	SourceReference    string          `json:"source_reference"`
	Results            *AnalysisResult `json:"results,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	Sequence           int64           `json:"sequence"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsTerminal reports whether status admits no further transition.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Transitions are monotonic: pending -> processing -> {completed, failed}.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// PracticeEvent is one datapoint from a live practice session, persisted
// append-only and fanned out to the session room.
type PracticeEvent struct {
	EventID         string  `json:"event_id" db:"event_id"`
	SessionID       string  `json:"session_id" db:"session_id"`
	SenderID        string  `json:"sender_id" db:"sender_id"`
	Timestamp       float64 `json:"timestamp" db:"timestamp"`
	CurrentChord    string  `json:"current_chord" db:"current_chord"`
	Accuracy        float64 `json:"accuracy" db:"accuracy"`
	MistakeDetected bool    `json:"mistake_detected" db:"mistake_detected"`
	Encouragement   string  `json:"encouragement" db:"encouragement"`
	PitchData       string  `json:"pitch_data,omitempty" db:"pitch_data"`
	TimingData      string  `json:"timing_data,omitempty" db:"timing_data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
