package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tabstream/tabstream-be/internal/jobs"
)

// Postgres implements Store on top of a sqlx connection pool.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

// jobRow maps the jobs table. Results is stored as JSONB.
type jobRow struct {
	JobID              string         `db:"job_id"`
	Status             string         `db:"status"`
	ProgressPercentage int            `db:"progress_percentage"`
	CurrentStep        string         `db:"current_step"`
	SourceReference    string         `db:"source_reference"`
	Results            []byte         `db:"results"`
	ErrorMessage       sql.NullString `db:"error_message"`
	Sequence           int64          `db:"sequence"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() (*jobs.ProcessingJob, error) {
	job := &jobs.ProcessingJob{
		JobID:              r.JobID,
		Status:             r.Status,
		ProgressPercentage: r.ProgressPercentage,
		CurrentStep:        r.CurrentStep,
		SourceReference:    r.SourceReference,
		Sequence:           r.Sequence,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}

	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}

	if len(r.Results) > 0 {
		var results jobs.AnalysisResult
		if err := json.Unmarshal(r.Results, &results); err != nil {
			return nil, fmt.Errorf("failed to decode job results: %w", err)
		}
		job.Results = &results
	}

	return job, nil
}

const jobColumns = `
	job_id, status, progress_percentage, current_step, source_reference,
	results, error_message, sequence, created_at, updated_at
`

func (s *Postgres) CreateJob(ctx context.Context, job *jobs.ProcessingJob) error {
	query := `
		INSERT INTO jobs (
			job_id, status, progress_percentage, current_step,
			source_reference, sequence, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, 1, NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.Status,
		job.ProgressPercentage,
		job.CurrentStep,
		job.SourceReference,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job record created",
		slog.String("job_id", job.JobID),
	)

	return nil
}

func (s *Postgres) GetJob(ctx context.Context, jobID string) (*jobs.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain()
}

// ClaimProcessing performs the pending -> processing transition with an
// optimistic status guard so two workers can never both claim one job.
func (s *Postgres) ClaimProcessing(ctx context.Context, jobID string) (*jobs.ProcessingJob, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    current_step = 'fetching_source',
		    sequence = sequence + 1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, jobs.StatusProcessing, jobID, jobs.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissingJob(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed for processing",
		slog.String("job_id", jobID),
	)

	return row.toDomain()
}

func (s *Postgres) UpdateProgress(ctx context.Context, jobID string, progress int, step string) (*jobs.ProcessingJob, error) {
	// GREATEST keeps progress monotonic even if stage writes race.
	query := `
		UPDATE jobs
		SET progress_percentage = GREATEST(progress_percentage, $1),
		    current_step = $2,
		    sequence = sequence + 1,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, progress, step, jobID, jobs.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissingJob(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to update job progress: %w", err)
	}

	return row.toDomain()
}

func (s *Postgres) CompleteJob(ctx context.Context, jobID string, results *jobs.AnalysisResult) (*jobs.ProcessingJob, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    progress_percentage = 100,
		    current_step = 'done',
		    results = $2,
		    sequence = sequence + 1,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var row jobRow
	err = s.db.GetContext(ctx, &row, query, jobs.StatusCompleted, resultsJSON, jobID, jobs.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissingJob(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
	)

	return row.toDomain()
}

func (s *Postgres) FailJob(ctx context.Context, jobID string, errMsg string) (*jobs.ProcessingJob, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    sequence = sequence + 1,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, jobs.StatusFailed, errMsg, jobID, jobs.StatusPending, jobs.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissingJob(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	s.logger.Info("Job marked failed",
		slog.String("job_id", jobID),
		slog.String("error_message", errMsg),
	)

	return row.toDomain()
}

// classifyMissingJob distinguishes a missing job from a guarded transition
// that matched no rows.
func (s *Postgres) classifyMissingJob(ctx context.Context, jobID string) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, jobID)
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if !exists {
		return jobs.ErrJobNotFound
	}
	return jobs.ErrInvalidTransition
}

func (s *Postgres) AppendPracticeEvent(ctx context.Context, event *jobs.PracticeEvent) error {
	query := `
		INSERT INTO practice_events (
			event_id, session_id, sender_id, timestamp, current_chord,
			accuracy, mistake_detected, encouragement, pitch_data, timing_data,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		event.EventID,
		event.SessionID,
		event.SenderID,
		event.Timestamp,
		event.CurrentChord,
		event.Accuracy,
		event.MistakeDetected,
		event.Encouragement,
		event.PitchData,
		event.TimingData,
	)
	if err != nil {
		return fmt.Errorf("failed to append practice event: %w", err)
	}

	return nil
}

func (s *Postgres) ListSessionEvents(ctx context.Context, filter EventFilter) ([]jobs.PracticeEvent, error) {
	query := `
		SELECT event_id, session_id, sender_id, timestamp, current_chord,
		       accuracy, mistake_detected, encouragement, pitch_data, timing_data,
		       created_at
		FROM practice_events
		WHERE session_id = $1
	`
	args := []interface{}{filter.SessionID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, event_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.EventID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, event_id DESC"

	// Fetch one extra row so the caller can tell whether more pages exist.
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var events []jobs.PracticeEvent
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list practice events: %w", err)
	}

	return events, nil
}

func (s *Postgres) GetSessionOwner(ctx context.Context, sessionID string) (string, error) {
	var ownerID string
	query := `SELECT owner_id FROM practice_sessions WHERE session_id = $1`

	if err := s.db.GetContext(ctx, &ownerID, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", jobs.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get session owner: %w", err)
	}

	return ownerID, nil
}
