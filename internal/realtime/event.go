package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabstream/tabstream-be/internal/jobs"
)

// Inbound event types. The set is closed; anything else is a validation error.
const (
	EventSubscribeJob   = "subscribe_job"
	EventUnsubscribeJob = "unsubscribe_job"
	EventJoinSession    = "join_session"
	EventLeaveSession   = "leave_session"
	EventPracticeData   = "practice_data"
	EventPing           = "ping"
)

// Outbound event types.
const (
	EventConnected        = "connected"
	EventJobUpdate        = "job_update"
	EventSessionJoined    = "session_joined"
	EventSessionLeft      = "session_left"
	EventPracticeFeedback = "practice_feedback"
	EventError            = "error"
	EventPong             = "pong"
)

// Error codes carried on outbound error events.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// InboundEvent is the flattened envelope every client frame decodes into.
// Which fields matter depends on Type.
type InboundEvent struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// practice_data fields
	Timestamp       float64 `json:"timestamp,omitempty"`
	CurrentChord    string  `json:"current_chord,omitempty"`
	Accuracy        float64 `json:"accuracy,omitempty"`
	MistakeDetected bool    `json:"mistake_detected,omitempty"`
	Encouragement   string  `json:"encouragement,omitempty"`
	PitchData       string  `json:"pitch_data,omitempty"`
	TimingData      string  `json:"timing_data,omitempty"`
}

// ParseInbound decodes and minimally validates one client frame.
func ParseInbound(data []byte) (*InboundEvent, error) {
	var event InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event frame missing type")
	}
	return &event, nil
}

// ConnectedEvent acknowledges a successful handshake.
type ConnectedEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Identity  string `json:"identity"`
}

// JobUpdateEvent carries one job snapshot to subscribers.
type JobUpdateEvent struct {
	Type               string               `json:"type"`
	JobID              string               `json:"job_id"`
	Status             string               `json:"status"`
	ProgressPercentage int                  `json:"progress_percentage"`
	CurrentStep        string               `json:"current_step"`
	Sequence           int64                `json:"sequence"`
	Results            *jobs.AnalysisResult `json:"results,omitempty"`
	ErrorMessage       string               `json:"error_message,omitempty"`
}

// SessionEvent acknowledges joining or leaving a room.
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PracticeFeedbackEvent fans one member's datapoint out to the rest of the
// room.
type PracticeFeedbackEvent struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"session_id"`
	Timestamp       float64 `json:"timestamp"`
	CurrentChord    string  `json:"current_chord"`
	Accuracy        float64 `json:"accuracy"`
	MistakeDetected bool    `json:"mistake_detected"`
	Encouragement   string  `json:"encouragement,omitempty"`
	SenderIdentity  string  `json:"sender_identity"`
}

// ErrorEvent surfaces a structured failure to the requester.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func newConnectedEvent(identity string) *ConnectedEvent {
	return &ConnectedEvent{
		Type:      EventConnected,
		Message:   "connection established",
		Timestamp: time.Now().Unix(),
		Identity:  identity,
	}
}

func newJobUpdateEvent(job *jobs.ProcessingJob) *JobUpdateEvent {
	return &JobUpdateEvent{
		Type:               EventJobUpdate,
		JobID:              job.JobID,
		Status:             job.Status,
		ProgressPercentage: job.ProgressPercentage,
		CurrentStep:        job.CurrentStep,
		Sequence:           job.Sequence,
		Results:            job.Results,
		ErrorMessage:       job.ErrorMessage,
	}
}

func newErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:    EventError,
		Message: message,
		Code:    code,
	}
}
