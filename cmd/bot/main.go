package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/handlers"
	"github.com/vibe-coding-tgbot-go/internal/i18n"
	"github.com/vibe-coding-tgbot-go/internal/middleware"
	"github.com/vibe-coding-tgbot-go/internal/services/ai"
	"github.com/vibe-coding-tgbot-go/internal/services/memory"
	"github.com/vibe-coding-tgbot-go/internal/services/trigger"
	"github.com/vibe-coding-tgbot-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const gaugeRefreshInterval = 30 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Vibe-Coding bot...")

	// Missing settings are reported, not fatal; whatever can run still runs
	for _, problem := range cfg.Validate() {
		log.WithError(problem).Error("Configuration problem")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Bot.Debug
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		// replies fall back to message ids
		log.WithError(err).Error("Failed to initialize i18n")
	}

	matcher := trigger.NewMatcher(cfg.Triggers.ImagePhrases)
	store := memory.NewStore(cfg.Context.MaxTurns, log)
	imageLimiter := middleware.NewImageLimiter(&cfg.Images, log)

	router := handlers.NewRouter(handlers.Deps{
		Config:       cfg,
		Bot:          bot,
		Self:         bot.Self,
		Gate:         trigger.NewGate(matcher, cfg.Triggers.Words),
		Matcher:      matcher,
		AI:           ai.NewCustomAI(&cfg.OpenAI, metrics, log),
		Images:       ai.NewFallbackImages(ai.NewOpenAIImages(&cfg.OpenAI, &cfg.Images), &cfg.Images, metrics, log),
		Resolver:     ai.NewFetcher(cfg.Images.DownloadTimeout),
		Memory:       store,
		ImageLimiter: imageLimiter,
		RateLimiter:  middleware.NewRateLimiter(ctx, &cfg.RateLimit, log),
		Security:     middleware.NewSecurityMiddleware(cfg.Moderation.BannedWords, log),
		Localizer:    localizer,
		Metrics:      metrics,
		Logger:       log,
	})

	log.WithFields(logrus.Fields{
		"daily_limit":      cfg.Images.DailyLimit,
		"cooldown_seconds": cfg.Images.CooldownSeconds,
		"max_turns":        cfg.Context.MaxTurns,
		"image_models":     cfg.Images.Models,
		"banned_words":     len(cfg.Moderation.BannedWords),
	}).Info("Services initialized")

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Monitoring.Metrics.Enabled {
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(gctx, cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		refreshGauges(gctx, store, imageLimiter, metrics)
		return nil
	})

	g.Go(func() error {
		return runUpdates(gctx, bot, cfg.Bot.UpdateTimeout, router, log)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Bot stopped with error")
	}
	log.Info("Bot stopped")
}

// runUpdates long-polls Telegram and handles every update in its own goroutine.
// On shutdown it stops polling and waits for in-flight updates.
func runUpdates(ctx context.Context, bot *tgbotapi.BotAPI, timeout int, router *handlers.Router, log *logrus.Logger) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	// in-flight work keeps running after shutdown starts; backend timeouts bound it
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutdown signal received")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func(update tgbotapi.Update) {
				defer wg.Done()
				router.HandleUpdate(handlerCtx, update)
			}(update)
		}
	}
}

// refreshGauges keeps the state-size gauges current
func refreshGauges(ctx context.Context, store *memory.Store, limiter *middleware.ImageLimiter, metrics *middleware.Metrics) {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()

	for {
		metrics.SetActiveChats(float64(store.ChatCount()))
		metrics.SetTrackedUsers(float64(limiter.UserCount()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
