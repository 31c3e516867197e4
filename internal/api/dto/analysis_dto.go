package dto

type SubmitAnalysisRequest struct {
	SourceReference string `json:"source_reference" binding:"required"`
}

type SubmitAnalysisResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListSessionEventsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListSessionEventsResponse struct {
	Events     []PracticeEventDTO `json:"events"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type PracticeEventDTO struct {
	EventID         string  `json:"event_id"`
	SessionID       string  `json:"session_id"`
	SenderID        string  `json:"sender_id"`
	Timestamp       float64 `json:"timestamp"`
	CurrentChord    string  `json:"current_chord"`
	Accuracy        float64 `json:"accuracy"`
	MistakeDetected bool    `json:"mistake_detected"`
	Encouragement   string  `json:"encouragement,omitempty"`
	CreatedAt       string  `json:"created_at"`
}
