package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_gate_decisions_total",
		Help: "Trigger gate decisions by reason",
	}, []string{"reason"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telegram_bot_ai_request_duration_seconds",
		Help:    "Duration of AI backend requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_ai_requests_total",
		Help: "Total number of AI backend requests",
	}, []string{"kind", "model", "status"})

	imageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_image_requests_total",
		Help: "Image requests by outcome",
	}, []string{"outcome"})

	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_bot_rejections_total",
		Help: "Requests rejected before any backend call",
	}, []string{"reason"})

	activeChats = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telegram_bot_active_chats",
		Help: "Number of chats with conversation memory",
	})

	trackedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telegram_bot_image_users",
		Help: "Number of users with image limiter state",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordGateDecision(reason string) {
	gateDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAIRequest records a completion ("chat") or generation ("image") call
func (m *Metrics) RecordAIRequest(kind, model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(kind, model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(kind, model, status).Inc()
}

func (m *Metrics) RecordImageRequest(outcome string) {
	imageRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRejection(reason string) {
	rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveChats(count float64) {
	activeChats.Set(count)
}

func (m *Metrics) SetTrackedUsers(count float64) {
	trackedUsers.Set(count)
}

// NewMetricsRouter exposes the Prometheus handler and a health check
func NewMetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return router
}

// StartMetricsServer serves metrics until ctx is cancelled
func StartMetricsServer(ctx context.Context, port int, path string) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
