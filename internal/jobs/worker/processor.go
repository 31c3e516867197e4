package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tabstream/tabstream-be/internal/analysis"
	"github.com/tabstream/tabstream-be/internal/jobs"
)

// transientError wraps infrastructure failures worth a requeue.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient error: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// shouldRequeue decides the NACK requeue flag. Only transient
// infrastructure failures are retried; everything else is either recorded
// on the job or permanently unprocessable.
func shouldRequeue(err error) bool {
	var transient *transientError
	return errors.As(err, &transient)
}

// processJob runs the derivation pipeline for one job. Every store state
// write is followed by exactly one notifier broadcast.
func (w *Worker) processJob(ctx context.Context, jobID string) error {
	w.logger.Info("Processing job",
		slog.String("job_id", jobID),
		slog.String("worker_id", w.workerID),
	)

	claimed, err := w.store.ClaimProcessing(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			// Nothing to execute; the queue message is stale.
			return fmt.Errorf("claim failed: %w", err)
		case errors.Is(err, jobs.ErrInvalidTransition):
			// Already claimed or already terminal. Drop without requeue.
			w.logger.Warn("Job not claimable, skipping",
				slog.String("job_id", jobID),
			)
			return fmt.Errorf("claim failed: %w", err)
		default:
			// Store unavailable; worth another attempt.
			return &transientError{err: fmt.Errorf("claim failed: %w", err)}
		}
	}
	w.notifier.JobUpdated(claimed)

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, deriveErr := w.derive(jobCtx, claimed)
	if deriveErr != nil {
		failed, failErr := w.store.FailJob(ctx, jobID, deriveErr.Error())
		if failErr != nil {
			w.logger.Error("Failed to record job failure",
				slog.String("job_id", jobID),
				slog.Any("error", failErr),
			)
			return &transientError{err: fmt.Errorf("failed to record failure: %w", failErr)}
		}
		w.notifier.JobUpdated(failed)

		w.logger.Info("Job failed",
			slog.String("job_id", jobID),
			slog.String("error_message", deriveErr.Error()),
		)
		// The failure is recorded and broadcast; the message is done.
		return nil
	}

	completed, err := w.store.CompleteJob(ctx, jobID, result)
	if err != nil {
		w.logger.Error("Failed to record job completion",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return &transientError{err: fmt.Errorf("failed to record completion: %w", err)}
	}
	w.notifier.JobUpdated(completed)

	w.logger.Info("Job completed",
		slog.String("job_id", jobID),
	)

	return nil
}

// derive invokes the analysis pipeline, streaming stage progress into the
// store when the analyzer supports it.
func (w *Worker) derive(ctx context.Context, job *jobs.ProcessingJob) (*jobs.AnalysisResult, error) {
	reporter, ok := w.analyzer.(analysis.ProgressReporter)
	if !ok {
		return w.analyzer.Derive(ctx, job.SourceReference)
	}

	return reporter.DeriveWithProgress(ctx, job.SourceReference, func(progress int, step string) {
		updated, err := w.store.UpdateProgress(ctx, job.JobID, progress, step)
		if err != nil {
			w.logger.Warn("Failed to record job progress",
				slog.String("job_id", job.JobID),
				slog.String("step", step),
				slog.Any("error", err),
			)
			return
		}
		w.notifier.JobUpdated(updated)
	})
}
