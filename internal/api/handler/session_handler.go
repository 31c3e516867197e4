package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tabstream/tabstream-be/internal/api/dto"
	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

const (
	defaultEventPageSize = 20
	maxEventPageSize     = 100
)

// ListSessionEvents handles GET /api/v1/sessions/:session_id/events
// Returns persisted practice events for a session, newest first.
func (h *SessionHandler) ListSessionEvents(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req dto.ListSessionEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultEventPageSize
	}
	if req.PageSize > maxEventPageSize {
		req.PageSize = maxEventPageSize
	}

	cursor, err := DecodeEventCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// Unknown sessions 404 instead of returning an empty page.
	if _, err := h.store.GetSessionOwner(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, jobs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "session not found",
			})
			return
		}
		h.logger.Error("Failed to look up session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list events",
		})
		return
	}

	events, err := h.store.ListSessionEvents(c.Request.Context(), store.EventFilter{
		SessionID: sessionID,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list session events",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list events",
		})
		return
	}

	hasMore := len(events) > req.PageSize
	if hasMore {
		events = events[:req.PageSize]
	}

	eventResponse := make([]dto.PracticeEventDTO, len(events))
	for i, event := range events {
		eventResponse[i] = dto.PracticeEventDTO{
			EventID:         event.EventID,
			SessionID:       event.SessionID,
			SenderID:        event.SenderID,
			Timestamp:       event.Timestamp,
			CurrentChord:    event.CurrentChord,
			Accuracy:        event.Accuracy,
			MistakeDetected: event.MistakeDetected,
			Encouragement:   event.Encouragement,
			CreatedAt:       event.CreatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if hasMore {
		last := events[len(events)-1]
		nextCursor = EncodeEventCursor(&store.EventCursor{
			CreatedAt: last.CreatedAt,
			EventID:   last.EventID,
		})
	}

	c.JSON(http.StatusOK, dto.ListSessionEventsResponse{
		Events:     eventResponse,
		NextCursor: nextCursor,
	})
}
