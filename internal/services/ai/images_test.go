package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

type scriptedClient struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (c *scriptedClient) GenerateWith(ctx context.Context, model, prompt string) (*models.ImageResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, model)
	if c.failOn[model] {
		return nil, fmt.Errorf("%s is down", model)
	}
	return &models.ImageResult{Model: model, Data: []byte("png")}, nil
}

func newTestFallback(client ImageClient, chain ...string) *FallbackImages {
	logger, _ := test.NewNullLogger()
	return NewFallbackImages(client, &config.ImagesConfig{Models: chain, MaxConcurrent: 2}, nil, logger)
}

func TestFallbackImages_PrimarySucceeds(t *testing.T) {
	client := &scriptedClient{}
	f := newTestFallback(client, "dall-e-3", "dall-e-2")

	res, err := f.Generate(context.Background(), "кіт")
	require.NoError(t, err)
	assert.Equal(t, "dall-e-3", res.Model)
	assert.Equal(t, []string{"dall-e-3"}, client.calls)
}

func TestFallbackImages_UsesExactlyOneFallback(t *testing.T) {
	client := &scriptedClient{failOn: map[string]bool{"dall-e-3": true}}
	f := newTestFallback(client, "dall-e-3", "dall-e-2", "third")

	assert.Equal(t, []string{"dall-e-3", "dall-e-2"}, f.Models())

	res, err := f.Generate(context.Background(), "кіт")
	require.NoError(t, err)
	assert.Equal(t, "dall-e-2", res.Model)
	assert.Equal(t, []string{"dall-e-3", "dall-e-2"}, client.calls)
}

func TestFallbackImages_BothFail(t *testing.T) {
	client := &scriptedClient{failOn: map[string]bool{"a": true, "b": true, "c": true}}
	f := newTestFallback(client, "a", "b", "c")

	_, err := f.Generate(context.Background(), "кіт")
	assert.ErrorIs(t, err, models.ErrBackendFailure)
	assert.Contains(t, err.Error(), "b is down")
	// never a third attempt
	assert.Equal(t, []string{"a", "b"}, client.calls)
}

func TestFallbackImages_NoModels(t *testing.T) {
	f := newTestFallback(&scriptedClient{})

	_, err := f.Generate(context.Background(), "кіт")
	assert.ErrorIs(t, err, models.ErrBackendFailure)
}

type blockingClient struct {
	active, peak int32
	release      chan struct{}
}

func (c *blockingClient) GenerateWith(ctx context.Context, model, prompt string) (*models.ImageResult, error) {
	n := atomic.AddInt32(&c.active, 1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	<-c.release
	atomic.AddInt32(&c.active, -1)
	return &models.ImageResult{Model: model, Data: []byte("png")}, nil
}

func TestFallbackImages_ConcurrencyCap(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	f := newTestFallback(client, "m")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Generate(context.Background(), "p")
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&client.peak), int32(2))
}

func TestOpenAIImages_GenerateWith(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "кіт у капелюсі", body["prompt"])
		assert.Equal(t, "512x512", body["size"])

		switch body["model"] {
		case "b64":
			fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(png))
		case "url":
			w.Write([]byte(`{"data":[{"url":"https://img.example/1.png"}]}`))
		case "empty":
			w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"unknown model"}}`))
		}
	}))
	defer server.Close()

	c := NewOpenAIImages(
		&config.OpenAIConfig{BaseURL: server.URL, APIKey: "k"},
		&config.ImagesConfig{Size: "512x512", Timeout: time.Second},
	)

	res, err := c.GenerateWith(context.Background(), "b64", "кіт у капелюсі")
	require.NoError(t, err)
	assert.Equal(t, png, res.Data)
	assert.Empty(t, res.URL)

	res, err = c.GenerateWith(context.Background(), "url", "кіт у капелюсі")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", res.URL)
	assert.Equal(t, "url", res.Model)

	_, err = c.GenerateWith(context.Background(), "empty", "кіт у капелюсі")
	assert.Error(t, err)

	_, err = c.GenerateWith(context.Background(), "nope", "кіт у капелюсі")
	assert.ErrorContains(t, err, "status 400")
}

func TestFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Write([]byte("image-bytes"))
		case "/slow.png":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewFetcher(50 * time.Millisecond)
	ctx := context.Background()

	data, err := f.Fetch(ctx, server.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	_, err = f.Fetch(ctx, server.URL+"/missing.png")
	assert.ErrorIs(t, err, models.ErrBackendFailure)

	_, err = f.Fetch(ctx, server.URL+"/slow.png")
	assert.ErrorIs(t, err, models.ErrBackendFailure)

	var backendErr *models.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "image download", backendErr.Op)
}

func TestFetcher_Resolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downloaded"))
	}))
	defer server.Close()

	f := NewFetcher(time.Second)
	ctx := context.Background()

	data, err := f.Resolve(ctx, &models.ImageResult{Data: []byte("inline")})
	require.NoError(t, err)
	assert.Equal(t, []byte("inline"), data)

	data, err = f.Resolve(ctx, &models.ImageResult{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, []byte("downloaded"), data)

	_, err = f.Resolve(ctx, &models.ImageResult{})
	assert.ErrorIs(t, err, models.ErrBackendFailure)
}
