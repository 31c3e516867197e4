package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tabstream/tabstream-be/internal/jobs"
)

// Memory is an in-process Store used by tests and local development.
// All state writes happen under one mutex, which also serializes the
// sequence numbers the hub relies on for ordering.
type Memory struct {
	mu       sync.Mutex
	jobsByID map[string]*jobs.ProcessingJob
	events   map[string][]jobs.PracticeEvent
	owners   map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobsByID: make(map[string]*jobs.ProcessingJob),
		events:   make(map[string][]jobs.PracticeEvent),
		owners:   make(map[string]string),
	}
}

func (s *Memory) CreateJob(_ context.Context, job *jobs.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	cp.Sequence = 1
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.jobsByID[job.JobID] = &cp
	return nil
}

func (s *Memory) GetJob(_ context.Context, jobID string) (*jobs.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *Memory) ClaimProcessing(_ context.Context, jobID string) (*jobs.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if !jobs.CanTransition(job.Status, jobs.StatusProcessing) {
		return nil, jobs.ErrInvalidTransition
	}

	job.Status = jobs.StatusProcessing
	job.CurrentStep = "fetching_source"
	job.Sequence++
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

func (s *Memory) UpdateProgress(_ context.Context, jobID string, progress int, step string) (*jobs.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if job.Status != jobs.StatusProcessing {
		return nil, jobs.ErrInvalidTransition
	}

	if progress > job.ProgressPercentage {
		job.ProgressPercentage = progress
	}
	job.CurrentStep = step
	job.Sequence++
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

func (s *Memory) CompleteJob(_ context.Context, jobID string, results *jobs.AnalysisResult) (*jobs.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if !jobs.CanTransition(job.Status, jobs.StatusCompleted) {
		return nil, jobs.ErrInvalidTransition
	}

	job.Status = jobs.StatusCompleted
	job.ProgressPercentage = 100
	job.CurrentStep = "done"
	job.Results = results
	job.Sequence++
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

func (s *Memory) FailJob(_ context.Context, jobID string, errMsg string) (*jobs.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if !jobs.CanTransition(job.Status, jobs.StatusFailed) {
		return nil, jobs.ErrInvalidTransition
	}

	job.Status = jobs.StatusFailed
	job.ErrorMessage = errMsg
	job.Sequence++
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

func (s *Memory) AppendPracticeEvent(_ context.Context, event *jobs.PracticeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.events[event.SessionID] = append(s.events[event.SessionID], cp)
	return nil
}

func (s *Memory) ListSessionEvents(_ context.Context, filter EventFilter) ([]jobs.PracticeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]jobs.PracticeEvent(nil), s.events[filter.SessionID]...)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].EventID > all[j].EventID
	})

	var out []jobs.PracticeEvent
	for _, ev := range all {
		if filter.Cursor != nil {
			if !ev.CreatedAt.Before(filter.Cursor.CreatedAt) &&
				!(ev.CreatedAt.Equal(filter.Cursor.CreatedAt) && ev.EventID < filter.Cursor.EventID) {
				continue
			}
		}
		out = append(out, ev)
		if len(out) == filter.PageSize+1 {
			break
		}
	}

	return out, nil
}

func (s *Memory) GetSessionOwner(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[sessionID]
	if !ok {
		return "", jobs.ErrSessionNotFound
	}
	return owner, nil
}

// RegisterSession records session ownership. Session CRUD lives outside the
// core; this exists so development and tests can seed rooms.
func (s *Memory) RegisterSession(sessionID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[sessionID] = ownerID
}
