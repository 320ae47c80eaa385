package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, getRequestID(c))
	})

	t.Run("reuses the caller's id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc")
		r.ServeHTTP(w, req)

		assert.Equal(t, "abc", w.Body.String())
		assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	})

	t.Run("mints one otherwise", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, w.Body.String(), 36)
		assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
	})
}

func TestGetRequestID_FromContext(t *testing.T) {
	assert.Equal(t, "job-7", getRequestID(WithContext(context.Background(), "job-7")))
	assert.Equal(t, "unknown", getRequestID(context.Background()))
}

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter("production", &buf)
	t.Cleanup(func() {
		Log = zap.NewNop()
		zap.ReplaceGlobals(Log)
	})

	Info(WithContext(context.Background(), "r-1"), "import committed")
	_ = Log.Sync()

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "import committed", entry["msg"])
	assert.Equal(t, "r-1", entry["request_id"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Contains(t, entry, "timestamp")
}
