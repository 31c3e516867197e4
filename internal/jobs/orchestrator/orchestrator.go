package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

// mediaIDPattern extracts the external media identifier from the supported
// source reference URL forms (watch, short link, embed, shorts).
var mediaIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/embed/|/shorts/)([A-Za-z0-9_-]{11})`)

const jobIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Dispatcher hands a job off to the worker pool. The RabbitMQ client
// satisfies this.
type Dispatcher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// dispatchMessage is the queue payload; workers only need the job id.
type dispatchMessage struct {
	JobID string `json:"job_id"`
}

// Orchestrator owns the job lifecycle: it validates submissions, creates
// the pending record and dispatches execution without blocking the caller.
type Orchestrator struct {
	store      store.Store
	dispatcher Dispatcher
	notifier   jobs.Notifier
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(s store.Store, dispatcher Dispatcher, notifier jobs.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      s,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
	}
}

// ExtractMediaID pulls the 11-character media identifier out of a source
// reference, or returns jobs.ErrInvalidSourceReference.
func ExtractMediaID(sourceReference string) (string, error) {
	match := mediaIDPattern.FindStringSubmatch(sourceReference)
	if match == nil {
		return "", fmt.Errorf("%w: %q", jobs.ErrInvalidSourceReference, sourceReference)
	}
	return match[1], nil
}

// NewJobID builds an identifier of the form job_<unix>_<6 base36 chars>.
func NewJobID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = jobIDAlphabet[rand.Intn(len(jobIDAlphabet))]
	}
	return fmt.Sprintf("job_%d_%s", time.Now().Unix(), suffix)
}

// Submit validates the source reference, creates a pending job and queues
// it for execution. It returns as soon as the hand-off is durable; the
// returned id is an acknowledgment, not completion.
func (o *Orchestrator) Submit(ctx context.Context, sourceReference string) (string, error) {
	mediaID, err := ExtractMediaID(sourceReference)
	if err != nil {
		return "", err
	}

	job := &jobs.ProcessingJob{
		JobID:           NewJobID(),
		Status:          jobs.StatusPending,
		CurrentStep:     "queued",
		SourceReference: sourceReference,
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("media_id", mediaID),
	)

	body, err := json.Marshal(dispatchMessage{JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	if err := o.dispatcher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		// The record exists but nothing will ever execute it. Fail it now so
		// subscribers see a terminal state instead of a stuck pending job.
		failed, failErr := o.store.FailJob(ctx, job.JobID, "failed to queue job for processing")
		if failErr != nil {
			o.logger.Error("Failed to mark undispatched job as failed",
				slog.String("job_id", job.JobID),
				slog.Any("error", failErr),
			)
		} else {
			o.notifier.JobUpdated(failed)
		}
		return "", fmt.Errorf("failed to dispatch job: %w", err)
	}

	return job.JobID, nil
}

// StatusSnapshot is the read model returned to API clients.
type StatusSnapshot struct {
	JobID                     string `json:"job_id"`
	Status                    string `json:"status"`
	ProgressPercentage        int    `json:"progress_percentage"`
	CurrentStep               string `json:"current_step"`
	EstimatedRemainingSeconds int    `json:"estimated_remaining_seconds"`
}

// GetStatus returns the current job snapshot. Read-only.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &StatusSnapshot{
		JobID:                     job.JobID,
		Status:                    job.Status,
		ProgressPercentage:        job.ProgressPercentage,
		CurrentStep:               job.CurrentStep,
		EstimatedRemainingSeconds: estimateRemaining(job, time.Now()),
	}, nil
}

// estimateRemaining extrapolates from elapsed time and progress so far.
func estimateRemaining(job *jobs.ProcessingJob, now time.Time) int {
	if jobs.IsTerminal(job.Status) || job.ProgressPercentage <= 0 {
		return 0
	}
	elapsed := now.Sub(job.CreatedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	remaining := elapsed * float64(100-job.ProgressPercentage) / float64(job.ProgressPercentage)
	return int(remaining)
}
