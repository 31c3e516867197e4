package realtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

type broadcastRecorder struct {
	mu        sync.Mutex
	snapshots []*jobs.ProcessingJob
}

func (b *broadcastRecorder) record(job *jobs.ProcessingJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, job)
}

func (b *broadcastRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots)
}

func TestMonitorManager_OneMonitorPerJob(t *testing.T) {
	s := store.NewMemory()
	recorder := &broadcastRecorder{}
	m := NewMonitorManager(s, 10*time.Millisecond, recorder.record, slog.Default())
	defer m.StopAll()

	m.Ensure("job_1")
	m.Ensure("job_1")
	m.Ensure("job_1")
	assert.Equal(t, 1, m.Count())

	m.Ensure("job_2")
	assert.Equal(t, 2, m.Count())

	m.Stop("job_1")
	assert.Equal(t, 1, m.Count())

	// Stop is idempotent.
	m.Stop("job_1")
	assert.Equal(t, 1, m.Count())
}

func TestMonitorManager_PollsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreateJob(ctx, &jobs.ProcessingJob{
		JobID:  "job_1",
		Status: jobs.StatusPending,
	}))

	recorder := &broadcastRecorder{}
	m := NewMonitorManager(s, 5*time.Millisecond, recorder.record, slog.Default())
	defer m.StopAll()

	m.Ensure("job_1")
	require.Eventually(t, func() bool {
		return recorder.count() >= 2
	}, time.Second, 5*time.Millisecond, "monitor should poll repeatedly")
	assert.Equal(t, 1, m.Count())
}

func TestMonitorManager_StopsOnTerminalSnapshot(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreateJob(ctx, &jobs.ProcessingJob{
		JobID:  "job_1",
		Status: jobs.StatusPending,
	}))
	_, err := s.ClaimProcessing(ctx, "job_1")
	require.NoError(t, err)
	_, err = s.CompleteJob(ctx, "job_1", &jobs.AnalysisResult{Key: "C major"})
	require.NoError(t, err)

	recorder := &broadcastRecorder{}
	m := NewMonitorManager(s, 5*time.Millisecond, recorder.record, slog.Default())

	m.Ensure("job_1")
	// One final broadcast, then the monitor releases itself even though the
	// subscriber was never removed.
	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, recorder.count(), 1)

	recorder.mu.Lock()
	last := recorder.snapshots[len(recorder.snapshots)-1]
	recorder.mu.Unlock()
	assert.Equal(t, jobs.StatusCompleted, last.Status)
}
