package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

type recordedCall struct {
	kind, model, status string
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (o *recordingObserver) RecordAIRequest(kind, model, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, recordedCall{kind, model, status})
}

func newTestChat(t *testing.T, handler http.HandlerFunc) (*CustomAI, *recordingObserver) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	obs := &recordingObserver{}
	cfg := &config.OpenAIConfig{
		BaseURL:     server.URL + "/",
		APIKey:      "sk-test",
		ChatModel:   "gpt-4o-mini",
		MaxTokens:   100,
		Temperature: 0.7,
		Timeout:     time.Second,
	}
	return NewCustomAI(cfg, obs, logger), obs
}

func TestCustomAI_GetResponse(t *testing.T) {
	var got struct {
		Model    string           `json:"model"`
		Messages []models.Message `json:"messages"`
	}

	s, obs := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"Привіт!"}}]}`))
	})

	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "привіт"},
	}
	reply, err := s.GetResponse(context.Background(), msgs, "")

	require.NoError(t, err)
	assert.Equal(t, "Привіт!", reply)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, msgs, got.Messages)
	assert.Equal(t, []recordedCall{{"chat", "gpt-4o-mini", "ok"}}, obs.calls)
}

func TestCustomAI_FailuresAreBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"api error", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"quota"}}`))
		}},
		{"empty choices", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			s, obs := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				tt.handler(w, r)
			})

			_, err := s.GetResponse(context.Background(), nil, "gpt-4o")
			assert.ErrorIs(t, err, models.ErrBackendFailure)
			// no retries
			assert.Equal(t, 1, calls)
			assert.Equal(t, []recordedCall{{"chat", "gpt-4o", "error"}}, obs.calls)
		})
	}
}

func TestCustomAI_Timeout(t *testing.T) {
	s, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	})
	s.config.Timeout = 50 * time.Millisecond

	_, err := s.GetResponse(context.Background(), nil, "")
	assert.ErrorIs(t, err, models.ErrBackendFailure)
}
