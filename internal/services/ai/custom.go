package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

// Service represents the chat completion interface
type Service interface {
	GetResponse(ctx context.Context, messages []models.Message, modelID string) (string, error)
	DefaultModel() string
}

// Observer receives one call per backend request
type Observer interface {
	RecordAIRequest(kind, model, status string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) RecordAIRequest(string, string, string, time.Duration) {}

// CustomAI talks to an OpenAI-compatible /chat/completions endpoint
type CustomAI struct {
	config     *config.OpenAIConfig
	httpClient *http.Client
	observer   Observer
	logger     logrus.FieldLogger
}

// NewCustomAI creates a new chat completion client
func NewCustomAI(cfg *config.OpenAIConfig, observer Observer, logger logrus.FieldLogger) *CustomAI {
	if observer == nil {
		observer = noopObserver{}
	}

	logger.WithFields(logrus.Fields{
		"baseURL": cfg.BaseURL,
		"model":   cfg.ChatModel,
	}).Info("AI service initialized")

	return &CustomAI{
		config:     cfg,
		httpClient: &http.Client{},
		observer:   observer,
		logger:     logger,
	}
}

// DefaultModel returns the configured chat model
func (s *CustomAI) DefaultModel() string {
	return s.config.ChatModel
}

// GetResponse sends one completion request. There are no retries; any failure is a backend failure.
func (s *CustomAI) GetResponse(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	if modelID == "" {
		modelID = s.config.ChatModel
	}

	start := time.Now()
	response, err := s.complete(ctx, messages, modelID)
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.WithError(err).WithField("modelID", modelID).Error("AI request failed")
	}
	s.observer.RecordAIRequest("chat", modelID, status, time.Since(start))

	if err != nil {
		return "", models.NewBackendError("chat completion", err)
	}
	return response, nil
}

func (s *CustomAI) complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	reqBody := map[string]interface{}{
		"model":       modelID,
		"messages":    messages,
		"temperature": s.config.Temperature,
	}
	if s.config.MaxTokens > 0 {
		reqBody["max_tokens"] = s.config.MaxTokens
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))

	s.logger.WithFields(logrus.Fields{
		"model":    modelID,
		"messages": len(messages),
	}).Debug("Sending AI request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI request failed with status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return "", fmt.Errorf("AI error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("no response from AI")
	}

	return result.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
