package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

type fakeDispatcher struct {
	published [][]byte
	err       error
}

func (d *fakeDispatcher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if d.err != nil {
		return d.err
	}
	d.published = append(d.published, body)
	return nil
}

type recordingNotifier struct {
	updates []*jobs.ProcessingJob
}

func (n *recordingNotifier) JobUpdated(job *jobs.ProcessingJob) {
	n.updates = append(n.updates, job)
}

func TestExtractMediaID(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "watch url", ref: "https://example.com/watch?v=abc12345678", want: "abc12345678"},
		{name: "short url", ref: "https://youtu.be/abc12345678", want: "abc12345678"},
		{name: "embed url", ref: "https://example.com/embed/abc12345678", want: "abc12345678"},
		{name: "shorts url", ref: "https://example.com/shorts/abc12345678", want: "abc12345678"},
		{name: "no id", ref: "https://example.com/somewhere", wantErr: true},
		{name: "id too short", ref: "https://example.com/watch?v=abc123", wantErr: true},
		{name: "empty", ref: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ExtractMediaID(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, jobs.ErrInvalidSourceReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestNewJobID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^job_\d+_[0-9a-z]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id := NewJobID()
		assert.Regexp(t, pattern, id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "ids should not all collide")
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	dispatcher := &fakeDispatcher{}
	o := New(s, dispatcher, jobs.NopNotifier{}, slog.Default())

	jobID, err := o.Submit(ctx, "https://example.com/watch?v=abc12345678")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Len(t, dispatcher.published, 1)
	assert.JSONEq(t, `{"job_id":"`+jobID+`"}`, string(dispatcher.published[0]))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, "https://example.com/watch?v=abc12345678", job.SourceReference)
}

func TestSubmit_RejectsMalformedReference(t *testing.T) {
	s := store.NewMemory()
	o := New(s, &fakeDispatcher{}, jobs.NopNotifier{}, slog.Default())

	_, err := o.Submit(context.Background(), "not-a-url")
	assert.ErrorIs(t, err, jobs.ErrInvalidSourceReference)
}

func TestSubmit_DispatchFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	notifier := &recordingNotifier{}
	o := New(s, &fakeDispatcher{err: errors.New("broker down")}, notifier, slog.Default())

	_, err := o.Submit(ctx, "https://example.com/watch?v=abc12345678")
	require.Error(t, err)

	// The one created job must have been moved to failed and broadcast once.
	require.Len(t, notifier.updates, 1)
	assert.Equal(t, jobs.StatusFailed, notifier.updates[0].Status)
	assert.NotEmpty(t, notifier.updates[0].ErrorMessage)
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	o := New(s, &fakeDispatcher{}, jobs.NopNotifier{}, slog.Default())

	jobID, err := o.Submit(ctx, "https://example.com/watch?v=abc12345678")
	require.NoError(t, err)

	snapshot, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, snapshot.JobID)
	assert.Equal(t, jobs.StatusPending, snapshot.Status)

	_, err = o.GetStatus(ctx, "job_0_zzzzzz")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestEstimateRemaining(t *testing.T) {
	now := time.Now()
	job := &jobs.ProcessingJob{
		Status:             jobs.StatusProcessing,
		ProgressPercentage: 25,
		CreatedAt:          now.Add(-30 * time.Second),
	}
	// 30s for 25% extrapolates to 90s remaining.
	assert.Equal(t, 90, estimateRemaining(job, now))

	job.Status = jobs.StatusCompleted
	assert.Equal(t, 0, estimateRemaining(job, now))

	job.Status = jobs.StatusProcessing
	job.ProgressPercentage = 0
	assert.Equal(t, 0, estimateRemaining(job, now))
}
