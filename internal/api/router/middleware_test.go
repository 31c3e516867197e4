package router

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedRouter(t *testing.T) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	output := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(output, nil))

	r := gin.New()
	r.Use(LoggerMiddleware(logger))
	r.GET("/api/v1/analysis/:job_id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"job_id": c.Param("job_id")})
	})
	r.GET(WebsocketPath, func(c *gin.Context) {
		c.Status(http.StatusSwitchingProtocols)
	})
	return r, output
}

func logLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerMiddleware_RequestLine(t *testing.T) {
	r, output := newLoggedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/job_1?verbose=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	lines := logLines(t, output)
	require.Len(t, lines, 1)
	assert.Equal(t, "HTTP Request", lines[0]["msg"])
	assert.Equal(t, float64(http.StatusOK), lines[0]["status"])
	assert.Equal(t, "/api/v1/analysis/job_1", lines[0]["path"])
	assert.Equal(t, "verbose=1", lines[0]["query"])
}

func TestLoggerMiddleware_WebsocketSessionLine(t *testing.T) {
	r, output := newLoggedRouter(t)

	req := httptest.NewRequest(http.MethodGet, WebsocketPath, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	lines := logLines(t, output)
	require.Len(t, lines, 1)
	assert.Equal(t, "Websocket session ended", lines[0]["msg"])
	assert.Contains(t, lines[0], "session_duration")
	assert.NotContains(t, lines[0], "status")
}
