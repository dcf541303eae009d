package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/models"
	"golang.org/x/sync/semaphore"
)

// ImageService produces one image for a prompt
type ImageService interface {
	Generate(ctx context.Context, prompt string) (*models.ImageResult, error)
}

// ImageClient calls a single image model
type ImageClient interface {
	GenerateWith(ctx context.Context, model, prompt string) (*models.ImageResult, error)
}

// OpenAIImages talks to an OpenAI-compatible /images/generations endpoint
type OpenAIImages struct {
	baseURL    string
	apiKey     string
	size       string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOpenAIImages creates an image client sharing the chat endpoint and key
func NewOpenAIImages(openai *config.OpenAIConfig, images *config.ImagesConfig) *OpenAIImages {
	return &OpenAIImages{
		baseURL:    strings.TrimSuffix(openai.BaseURL, "/"),
		apiKey:     openai.APIKey,
		size:       images.Size,
		timeout:    images.Timeout,
		httpClient: &http.Client{},
	}
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateWith asks one model for one image. The result carries either bytes or a URL.
func (c *OpenAIImages) GenerateWith(ctx context.Context, model, prompt string) (*models.ImageResult, error) {
	requestBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"n":      1,
	}
	if c.size != "" {
		requestBody["size"] = c.size
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image request failed with status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var response imageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error.Message != "" {
		return nil, fmt.Errorf("image error: %s", response.Error.Message)
	}
	if len(response.Data) == 0 {
		return nil, errors.New("image not generated")
	}

	item := response.Data[0]
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return &models.ImageResult{Model: model, Data: data}, nil
	case item.URL != "":
		return &models.ImageResult{Model: model, URL: item.URL}, nil
	default:
		return nil, errors.New("image response has neither url nor data")
	}
}

// FallbackImages tries the primary model and, on failure, exactly one fallback model
type FallbackImages struct {
	client   ImageClient
	models   []string
	sem      *semaphore.Weighted
	observer Observer
	logger   logrus.FieldLogger
}

// NewFallbackImages builds the chain from cfg.Models; entries after the second are ignored.
// maxConcurrent <= 0 leaves generation unbounded.
func NewFallbackImages(client ImageClient, cfg *config.ImagesConfig, observer Observer, logger logrus.FieldLogger) *FallbackImages {
	chain := cfg.Models
	if len(chain) > 2 {
		logger.WithField("ignored", chain[2:]).Warn("Only one fallback image model is used")
		chain = chain[:2]
	}
	if observer == nil {
		observer = noopObserver{}
	}

	f := &FallbackImages{
		client:   client,
		models:   append([]string(nil), chain...),
		observer: observer,
		logger:   logger,
	}
	if cfg.MaxConcurrent > 0 {
		f.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return f
}

// Models returns the chain in the order it is tried
func (f *FallbackImages) Models() []string {
	return append([]string(nil), f.models...)
}

// Generate returns the first model's image, or the fallback's if the first failed.
// Both failing is a backend failure carrying the last cause.
func (f *FallbackImages) Generate(ctx context.Context, prompt string) (*models.ImageResult, error) {
	if len(f.models) == 0 {
		return nil, models.NewBackendError("image generation", errors.New("no image models configured"))
	}

	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, models.NewBackendError("image generation", err)
		}
		defer f.sem.Release(1)
	}

	var lastErr error
	for i, model := range f.models {
		start := time.Now()
		result, err := f.client.GenerateWith(ctx, model, prompt)
		if err == nil {
			f.observer.RecordAIRequest("image", model, "ok", time.Since(start))
			if i > 0 {
				f.logger.WithField("model", model).Info("Image generated by fallback model")
			}
			return result, nil
		}

		f.observer.RecordAIRequest("image", model, "error", time.Since(start))
		f.logger.WithError(err).WithFields(logrus.Fields{
			"model":   model,
			"attempt": i + 1,
		}).Warn("Image model failed")
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, models.NewBackendError("image generation", lastErr)
}

// Fetcher downloads generated images by URL
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
}

// maxImageBytes is Telegram's upload limit for photos
const maxImageBytes = 10 << 20

// NewFetcher creates a fetcher with the given per-download timeout
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{},
		timeout:    timeout,
		maxBytes:   maxImageBytes,
	}
}

// Fetch returns the body of url
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewBackendError("image download", fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, models.NewBackendError("image download", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.NewBackendError("image download", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, models.NewBackendError("image download", fmt.Errorf("reading body failed: %w", err))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, models.NewBackendError("image download", fmt.Errorf("image larger than %d bytes", f.maxBytes))
	}
	if len(data) == 0 {
		return nil, models.NewBackendError("image download", errors.New("empty body"))
	}
	return data, nil
}

// Resolve returns the image bytes, downloading them when the backend only gave a URL
func (f *Fetcher) Resolve(ctx context.Context, result *models.ImageResult) ([]byte, error) {
	if len(result.Data) > 0 {
		return result.Data, nil
	}
	if result.URL == "" {
		return nil, models.NewBackendError("image download", errors.New("no image data"))
	}
	return f.Fetch(ctx, result.URL)
}
