package handler

import (
	"context"
	"log/slog"

	"github.com/tabstream/tabstream-be/internal/jobs/orchestrator"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
	"github.com/tabstream/tabstream-be/internal/realtime"
)

// AnalysisService is the slice of the orchestrator the HTTP layer needs.
type AnalysisService interface {
	Submit(ctx context.Context, sourceReference string) (string, error)
	GetStatus(ctx context.Context, jobID string) (*orchestrator.StatusSnapshot, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Analysis AnalysisService
	Store    store.Store
	Hub      *realtime.Hub
}

// AnalysisHandler handles analysis job HTTP requests
type AnalysisHandler struct {
	logger   *slog.Logger
	analysis AnalysisService
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:   deps.Logger,
		analysis: deps.Analysis,
	}
}

// SessionHandler serves persisted practice session history
type SessionHandler struct {
	logger *slog.Logger
	store  store.Store
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
