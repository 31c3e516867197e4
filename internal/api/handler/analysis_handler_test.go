package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/orchestrator"
)

type fakeAnalysisService struct {
	submitJobID string
	submitErr   error
	snapshot    *orchestrator.StatusSnapshot
	statusErr   error

	submittedRef string
}

func (f *fakeAnalysisService) Submit(_ context.Context, sourceReference string) (string, error) {
	f.submittedRef = sourceReference
	return f.submitJobID, f.submitErr
}

func (f *fakeAnalysisService) GetStatus(_ context.Context, _ string) (*orchestrator.StatusSnapshot, error) {
	return f.snapshot, f.statusErr
}

func newAnalysisRouter(svc AnalysisService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAnalysisHandler(&Dependencies{Logger: slog.Default(), Analysis: svc})

	r := gin.New()
	r.POST("/api/v1/analysis", h.SubmitAnalysis)
	r.GET("/api/v1/analysis/:job_id", h.GetAnalysis)
	return r
}

func TestSubmitAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		service    *fakeAnalysisService
		wantStatus int
		wantBody   string
	}{
		{
			name:       "accepted",
			body:       `{"source_reference": "https://example.com/watch?v=abc12345678"}`,
			service:    &fakeAnalysisService{submitJobID: "job_1700000000_x9k2mp"},
			wantStatus: http.StatusAccepted,
			wantBody:   `"job_id":"job_1700000000_x9k2mp"`,
		},
		{
			name:       "missing source reference",
			body:       `{}`,
			service:    &fakeAnalysisService{},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid request body",
		},
		{
			name:       "unrecognized reference",
			body:       `{"source_reference": "not-a-url"}`,
			service:    &fakeAnalysisService{submitErr: fmt.Errorf("%w: bad", jobs.ErrInvalidSourceReference)},
			wantStatus: http.StatusBadRequest,
			wantBody:   "not a recognized media URL",
		},
		{
			name:       "dispatch failure",
			body:       `{"source_reference": "https://example.com/watch?v=abc12345678"}`,
			service:    &fakeAnalysisService{submitErr: fmt.Errorf("failed to dispatch job: broker down")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "Failed to queue analysis job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAnalysisRouter(tt.service)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestSubmitAnalysis_AcceptedStatusIsPending(t *testing.T) {
	svc := &fakeAnalysisService{submitJobID: "job_1"}
	r := newAnalysisRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis",
		strings.NewReader(`{"source_reference": "https://example.com/watch?v=abc12345678"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
	assert.Equal(t, "https://example.com/watch?v=abc12345678", svc.submittedRef)
}

func TestGetAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		service    *fakeAnalysisService
		wantStatus int
		wantBody   string
	}{
		{
			name: "snapshot returned",
			service: &fakeAnalysisService{snapshot: &orchestrator.StatusSnapshot{
				JobID:              "job_1",
				Status:             jobs.StatusProcessing,
				ProgressPercentage: 55,
				CurrentStep:        "detecting_tempo",
			}},
			wantStatus: http.StatusOK,
			wantBody:   `"current_step":"detecting_tempo"`,
		},
		{
			name:       "unknown job",
			service:    &fakeAnalysisService{statusErr: jobs.ErrJobNotFound},
			wantStatus: http.StatusNotFound,
			wantBody:   "job not found",
		},
		{
			name:       "store failure",
			service:    &fakeAnalysisService{statusErr: fmt.Errorf("connection reset")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Failed to get job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAnalysisRouter(tt.service)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/job_1", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
