package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRouter(t *testing.T) {
	m := NewMetrics()
	m.RecordImageRequest("delivered")
	m.RecordAIRequest("image", "dall-e-3", "ok", time.Second)
	m.SetActiveChats(3)

	router := NewMetricsRouter("/metrics")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `telegram_bot_image_requests_total{outcome="delivered"}`)
	assert.Contains(t, rec.Body.String(), "telegram_bot_active_chats 3")
}
