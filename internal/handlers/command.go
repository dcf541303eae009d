package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/i18n"
	"github.com/vibe-coding-tgbot-go/internal/middleware"
	"github.com/vibe-coding-tgbot-go/internal/models"
	"github.com/vibe-coding-tgbot-go/internal/services/memory"
	"github.com/vibe-coding-tgbot-go/internal/services/trigger"
)

// maxMemoryTurnLength bounds each turn shown by /memory
const maxMemoryTurnLength = 200

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot       Bot
	self      tgbotapi.User
	config    *config.Config
	matcher   *trigger.Matcher
	memory    *memory.Store
	images    *MessageHandler
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    logrus.FieldLogger
}

// NewCommandHandler creates a new command handler. Image commands reuse the message handler's pipeline.
func NewCommandHandler(d Deps, images *MessageHandler) *CommandHandler {
	return &CommandHandler{
		bot:       d.Bot,
		self:      d.Self,
		config:    d.Config,
		matcher:   d.Matcher,
		memory:    d.Memory,
		images:    images,
		localizer: d.Localizer,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.From == nil || message.Chat == nil {
		return nil
	}
	if message.From.IsBot || commandForOtherBot(message, h.self.UserName) {
		return nil
	}

	chatID := message.Chat.ID
	command := strings.ToLower(message.Command())
	lang := pickLanguage(message.From, h.config.I18n.Languages, h.config.I18n.DefaultLanguage)

	switch command {
	case "start":
		h.metrics.RecordCommandExecuted(command)
		return h.send(chatID, h.localizer.Get(lang, i18n.MsgWelcome, nil))
	case "help":
		h.metrics.RecordCommandExecuted(command)
		return h.send(chatID, h.localizer.Get(lang, i18n.MsgHelp, nil))
	case "about":
		h.metrics.RecordCommandExecuted(command)
		return h.handleAbout(chatID, lang)
	case "memory":
		h.metrics.RecordCommandExecuted(command)
		return h.handleMemory(chatID, lang)
	case "reset":
		h.metrics.RecordCommandExecuted(command)
		h.memory.Clear(chatID)
		return h.send(chatID, h.localizer.Get(lang, i18n.MsgMemoryCleared, nil))
	case "img", "image":
		h.metrics.RecordCommandExecuted("img")
		return h.images.HandleImageRequest(ctx, message, h.matcher.Classify(message.Text))
	case "testimg":
		h.metrics.RecordCommandExecuted(command)
		prompt := h.config.Images.TestPrompt
		return h.images.HandleImageRequest(ctx, message, trigger.Request{
			Kind:        trigger.KindImage,
			Text:        prompt,
			Description: prompt,
			Phrase:      "/testimg",
		})
	default:
		return h.handleUnknown(message, lang)
	}
}

func (h *CommandHandler) handleAbout(chatID int64, lang string) error {
	limit := fmt.Sprint(h.config.Images.DailyLimit)
	if h.config.Images.DailyLimit <= 0 {
		limit = "∞"
	}
	text := h.localizer.Get(lang, i18n.MsgAbout, map[string]interface{}{
		"Model":    h.config.OpenAI.ChatModel,
		"Limit":    limit,
		"Cooldown": h.config.Images.CooldownSeconds,
	})
	return h.send(chatID, text)
}

func (h *CommandHandler) handleMemory(chatID int64, lang string) error {
	turns := h.memory.Get(chatID)
	if len(turns) == 0 {
		return h.send(chatID, h.localizer.Get(lang, i18n.MsgMemoryEmpty, nil))
	}

	var b strings.Builder
	b.WriteString(h.localizer.Get(lang, i18n.MsgMemoryHeader, map[string]interface{}{
		"Count": len(turns),
	}))
	b.WriteString("\n")
	for _, turn := range turns {
		icon := "🤖"
		if turn.Role == models.RoleUser {
			icon = "👤"
		}
		b.WriteString("\n" + icon + " " + truncateRunes(turn.Content, maxMemoryTurnLength))
	}

	for _, chunk := range splitMessage(b.String(), maxMessageLength) {
		if err := h.send(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// handleUnknown answers only in private chats so groups shared with other bots stay quiet
func (h *CommandHandler) handleUnknown(message *tgbotapi.Message, lang string) error {
	if !message.Chat.IsPrivate() {
		return nil
	}
	return h.send(message.Chat.ID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
}

func (h *CommandHandler) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send command reply")
	}
	return nil
}
