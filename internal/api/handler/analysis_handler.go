package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tabstream/tabstream-be/internal/api/dto"
	"github.com/tabstream/tabstream-be/internal/jobs"
)

// SubmitAnalysis handles POST /api/v1/analysis
// Accepts a source reference and queues derivation in the background.
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	var req dto.SubmitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.analysis.Submit(c.Request.Context(), req.SourceReference)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidSourceReference) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "source_reference is not a recognized media URL",
			})
			return
		}
		h.logger.Error("Failed to submit analysis job", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to queue analysis job",
		})
		return
	}

	// 202: the job id acknowledges acceptance, results arrive later.
	c.JSON(http.StatusAccepted, dto.SubmitAnalysisResponse{
		JobID:  jobID,
		Status: jobs.StatusPending,
	})
}

// GetAnalysis handles GET /api/v1/analysis/:job_id
// Returns the current job snapshot for polling clients.
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	snapshot, err := h.analysis.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get analysis job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
