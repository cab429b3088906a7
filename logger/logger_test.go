package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_TeesIntoSink(t *testing.T) {
	var sink bytes.Buffer
	log, err := New("production", &sink)
	require.NoError(t, err)

	log.Info("order materialized", zap.String("payment_reference", "pi_abc"))
	_ = log.Sync()

	assert.Contains(t, sink.String(), `"msg":"order materialized"`)
	assert.Contains(t, sink.String(), `"payment_reference":"pi_abc"`)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		FromContext(c, base).Info("handled")
		c.Status(http.StatusNoContent)
	})

	t.Run("propagates upstream id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, "req-123", entries[0].ContextMap()[RequestIDKey])
	})

	t.Run("generates id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	})
}
