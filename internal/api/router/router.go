package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tabstream/tabstream-be/internal/api/handler"
)

// WebsocketPath is the hub's upgrade endpoint; the logger middleware
// treats it specially.
const WebsocketPath = "/ws"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tabstream-be",
		})
	})

	analysisHandler := handler.NewAnalysisHandler(deps)
	sessionHandler := handler.NewSessionHandler(deps)

	// Websocket endpoint. The middleware logs it as a session close once
	// the long-lived connection ends.
	if deps.Hub != nil {
		wsHandler := handler.NewWSHandler(deps)
		r.GET(WebsocketPath, wsHandler.Serve)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		analysis := v1.Group("/analysis")
		{
			// POST /api/v1/analysis - Submit a new analysis job
			analysis.POST("", analysisHandler.SubmitAnalysis)

			// GET /api/v1/analysis/:job_id - Get job status snapshot
			analysis.GET("/:job_id", analysisHandler.GetAnalysis)
		}

		sessions := v1.Group("/sessions")
		{
			// GET /api/v1/sessions/:session_id/events - Practice history
			sessions.GET("/:session_id/events", sessionHandler.ListSessionEvents)
		}
	}

	return r
}
