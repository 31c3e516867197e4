package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

// monitorHandle is one cancellable poll loop for a job.
type monitorHandle struct {
	cancel context.CancelFunc
}

// MonitorManager runs at most one poll loop per actively-subscribed job.
// Each loop reads the job snapshot on a fixed interval and hands it to the
// broadcast callback; on a terminal snapshot it broadcasts once more and
// stops itself. Stopping a monitor never cancels the underlying derivation
// task.
type MonitorManager struct {
	store     store.Store
	interval  time.Duration
	broadcast func(job *jobs.ProcessingJob)
	logger    *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitorHandle
}

// NewMonitorManager creates a MonitorManager.
func NewMonitorManager(s store.Store, interval time.Duration, broadcast func(*jobs.ProcessingJob), logger *slog.Logger) *MonitorManager {
	return &MonitorManager{
		store:     s,
		interval:  interval,
		broadcast: broadcast,
		logger:    logger,
		monitors:  make(map[string]*monitorHandle),
	}
}

// Ensure starts a monitor for the job unless one is already live.
func (m *MonitorManager) Ensure(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.monitors[jobID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.monitors[jobID] = &monitorHandle{cancel: cancel}

	go m.run(ctx, jobID)

	m.logger.Debug("Job monitor started",
		slog.String("job_id", jobID),
	)
}

// Stop cancels the monitor for a job, if one is live. Idempotent.
func (m *MonitorManager) Stop(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(jobID)
}

// StopAll cancels every live monitor.
func (m *MonitorManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID := range m.monitors {
		m.stopLocked(jobID)
	}
}

// Count returns the number of live monitors.
func (m *MonitorManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitors)
}

func (m *MonitorManager) stopLocked(jobID string) {
	handle, ok := m.monitors[jobID]
	if !ok {
		return
	}
	handle.cancel()
	delete(m.monitors, jobID)

	m.logger.Debug("Job monitor stopped",
		slog.String("job_id", jobID),
	)
}

// run is the poll loop for one job.
func (m *MonitorManager) run(ctx context.Context, jobID string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			job, err := m.store.GetJob(ctx, jobID)
			if err != nil {
				m.logger.Warn("Job monitor poll failed",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
				continue
			}

			m.broadcast(job)

			if jobs.IsTerminal(job.Status) {
				// Release the timer whether or not subscribers remain.
				// The broadcast side may already have stopped this handle
				// on the same snapshot, but it skips that when its
				// ordering gate drops the broadcast as a duplicate, so
				// the loop must also stop itself. Stop is idempotent.
				m.Stop(jobID)
				return
			}
		}
	}
}
