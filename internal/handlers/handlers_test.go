package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/i18n"
	"github.com/vibe-coding-tgbot-go/internal/middleware"
	"github.com/vibe-coding-tgbot-go/internal/models"
	"github.com/vibe-coding-tgbot-go/internal/services/ai"
	"github.com/vibe-coding-tgbot-go/internal/services/memory"
	"github.com/vibe-coding-tgbot-go/internal/services/trigger"
)

const (
	botID   int64 = 999
	groupID int64 = -100
)

type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	actions   []string
	failPhoto bool
	failHTML  bool
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.PhotoConfig:
		if b.failPhoto {
			return tgbotapi.Message{}, errors.New("upload failed")
		}
	case tgbotapi.MessageConfig:
		if b.failHTML && m.ParseMode == tgbotapi.ModeHTML {
			return tgbotapi.Message{}, errors.New("can't parse entities")
		}
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := c.(tgbotapi.ChatActionConfig); ok {
		b.actions = append(b.actions, a.Action)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) photos() []tgbotapi.PhotoConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range b.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBot) lastText(t *testing.T) string {
	t.Helper()
	texts := b.texts()
	require.NotEmpty(t, texts)
	return texts[len(texts)-1]
}

type fakeAI struct {
	mu    sync.Mutex
	calls [][]models.Message
	reply string
	err   error
}

func (f *fakeAI) GetResponse(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) DefaultModel() string {
	return "test-model"
}

type fakeImages struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (*models.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ImageResult{Model: "dall-e-3", Data: []byte("png")}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	router  *Router
	bot     *fakeBot
	ai      *fakeAI
	images  *fakeImages
	clock   *testClock
	limiter *middleware.ImageLimiter
	memory  *memory.Store
	config  *config.Config
}

func newHarness(t *testing.T, customize ...func(*config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.OpenAI.ChatModel = "test-model"
	cfg.Images.DailyLimit = 2
	cfg.Images.CooldownSeconds = 20
	cfg.Images.TestPrompt = "test robot"
	cfg.Context.MaxTurns = 10
	cfg.Context.SystemPrompt = "persona"
	cfg.Context.RememberImages = true
	cfg.Triggers.Words = []string{"бот"}
	cfg.Moderation.BannedWords = []string{"казино"}
	cfg.I18n = config.I18nConfig{DefaultLanguage: "uk", Languages: []string{"uk", "en"}, Directory: "../../configs/i18n"}
	for _, c := range customize {
		c(cfg)
	}

	logger, _ := test.NewNullLogger()
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		bot:    &fakeBot{},
		ai:     &fakeAI{reply: "**Привіт!**"},
		images: &fakeImages{},
		clock:  &testClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)},
		memory: memory.NewStore(cfg.Context.MaxTurns, logger),
		config: cfg,
	}
	h.limiter = middleware.NewImageLimiter(&cfg.Images, logger, middleware.WithClock(h.clock.Now))

	matcher := trigger.NewMatcher(cfg.Triggers.ImagePhrases)
	h.router = NewRouter(Deps{
		Config:       cfg,
		Bot:          h.bot,
		Self:         tgbotapi.User{ID: botID, IsBot: true, UserName: "vibe_bot"},
		Gate:         trigger.NewGate(matcher, cfg.Triggers.Words),
		Matcher:      matcher,
		AI:           h.ai,
		Images:       h.images,
		Resolver:     ai.NewFetcher(time.Second),
		Memory:       h.memory,
		ImageLimiter: h.limiter,
		RateLimiter:  middleware.NewRateLimiter(ctx, &cfg.RateLimit, logger),
		Security:     middleware.NewSecurityMiddleware(cfg.Moderation.BannedWords, logger),
		Localizer:    localizer,
		Metrics:      middleware.NewMetrics(),
		Logger:       logger,
	})
	return h
}

func (h *harness) send(msg *tgbotapi.Message) {
	h.router.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1, Message: msg})
}

func groupMessage(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, FirstName: "Олена", LanguageCode: "uk"},
		Chat:      &tgbotapi.Chat{ID: groupID, Type: "supergroup"},
		Text:      text,
	}
}

func privateMessage(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, FirstName: "Олена", LanguageCode: "uk"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
}

// asCommand marks the first word of the text as a bot command entity
func asCommand(msg *tgbotapi.Message) *tgbotapi.Message {
	word := msg.Text
	for i, r := range msg.Text {
		if r == ' ' {
			word = msg.Text[:i]
			break
		}
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(utf16.Encode([]rune(word)))}}
	return msg
}
