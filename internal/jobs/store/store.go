package store

import (
	"context"
	"time"

	"github.com/tabstream/tabstream-be/internal/jobs"
)

// Store is the shared job and session state behind the orchestrator, the
// worker pool and the notification hub. Implementations must serialize
// state writes per job so that the returned snapshots carry strictly
// increasing sequence numbers.
type Store interface {
	// CreateJob inserts a new job record. The job must be in pending status.
	CreateJob(ctx context.Context, job *jobs.ProcessingJob) error

	// GetJob returns the current snapshot or jobs.ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*jobs.ProcessingJob, error)

	// ClaimProcessing moves a pending job to processing. Returns
	// jobs.ErrInvalidTransition if the job is no longer pending.
	ClaimProcessing(ctx context.Context, jobID string) (*jobs.ProcessingJob, error)

	// UpdateProgress records progress for a processing job. Progress never
	// moves backwards; a lower value is clamped to the stored one.
	UpdateProgress(ctx context.Context, jobID string, progress int, step string) (*jobs.ProcessingJob, error)

	// CompleteJob moves a processing job to completed with its results.
	CompleteJob(ctx context.Context, jobID string, results *jobs.AnalysisResult) (*jobs.ProcessingJob, error)

	// FailJob moves a non-terminal job to failed with an error message.
	FailJob(ctx context.Context, jobID string, errMsg string) (*jobs.ProcessingJob, error)

	// AppendPracticeEvent persists one practice datapoint, append-only.
	AppendPracticeEvent(ctx context.Context, event *jobs.PracticeEvent) error

	// ListSessionEvents returns persisted practice events for a session,
	// newest first, cursor-paginated.
	ListSessionEvents(ctx context.Context, filter EventFilter) ([]jobs.PracticeEvent, error)

	// GetSessionOwner returns the identity owning a practice session, or
	// jobs.ErrSessionNotFound.
	GetSessionOwner(ctx context.Context, sessionID string) (string, error)
}

// EventFilter narrows a ListSessionEvents query.
type EventFilter struct {
	SessionID string
	PageSize  int
	Cursor    *EventCursor
}

// EventCursor marks the position after the last event of the previous page.
type EventCursor struct {
	CreatedAt time.Time
	EventID   string
}
