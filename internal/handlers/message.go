package handlers

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"github.com/vibe-coding-tgbot-go/internal/i18n"
	"github.com/vibe-coding-tgbot-go/internal/middleware"
	"github.com/vibe-coding-tgbot-go/internal/models"
	"github.com/vibe-coding-tgbot-go/internal/services/ai"
	"github.com/vibe-coding-tgbot-go/internal/services/memory"
	"github.com/vibe-coding-tgbot-go/internal/services/trigger"
	"github.com/vibe-coding-tgbot-go/pkg/logger"
	"github.com/vibe-coding-tgbot-go/pkg/markdown"
)

// ImageResolver turns a backend result into uploadable bytes
type ImageResolver interface {
	Resolve(ctx context.Context, result *models.ImageResult) ([]byte, error)
}

// Deps are the services shared by the message and command handlers
type Deps struct {
	Config       *config.Config
	Bot          Bot
	Self         tgbotapi.User
	Gate         *trigger.Gate
	Matcher      *trigger.Matcher
	AI           ai.Service
	Images       ai.ImageService
	Resolver     ImageResolver
	Memory       *memory.Store
	ImageLimiter *middleware.ImageLimiter
	RateLimiter  middleware.RateLimiter
	Security     *middleware.SecurityMiddleware
	Localizer    *i18n.Localizer
	Metrics      *middleware.Metrics
	Logger       logrus.FieldLogger
}

// MessageHandler handles regular messages
type MessageHandler struct {
	config       *config.Config
	bot          Bot
	self         tgbotapi.User
	gate         *trigger.Gate
	aiService    ai.Service
	images       ai.ImageService
	resolver     ImageResolver
	memory       *memory.Store
	imageLimiter *middleware.ImageLimiter
	rateLimiter  middleware.RateLimiter
	security     *middleware.SecurityMiddleware
	localizer    *i18n.Localizer
	metrics      *middleware.Metrics
	logger       logrus.FieldLogger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(d Deps) *MessageHandler {
	return &MessageHandler{
		config:       d.Config,
		bot:          d.Bot,
		self:         d.Self,
		gate:         d.Gate,
		aiService:    d.AI,
		images:       d.Images,
		resolver:     d.Resolver,
		memory:       d.Memory,
		imageLimiter: d.ImageLimiter,
		rateLimiter:  d.RateLimiter,
		security:     d.Security,
		localizer:    d.Localizer,
		metrics:      d.Metrics,
		logger:       d.Logger,
	}
}

// HandleMessage runs a non-command message through the gate and the matching pipeline.
// Failures are reported to the user; the returned error is reserved for delivery problems
// that the caller may want to count.
func (h *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.From == nil || message.Chat == nil {
		return nil
	}
	if message.From.IsBot || message.From.ID == h.self.ID {
		return nil
	}
	if strings.TrimSpace(message.Text) == "" {
		return nil
	}

	log := logger.WithContext(h.logger, message.Chat.ID, message.From.ID)

	decision := h.gate.Decide(trigger.Message{
		Private:   message.Chat.IsPrivate(),
		Text:      message.Text,
		Mentions:  mentionsOf(message),
		BotHandle: h.self.UserName,
	})
	h.metrics.RecordGateDecision(decision.Reason.String())

	log.WithFields(logrus.Fields{
		"respond": decision.Respond,
		"reason":  decision.Reason.String(),
		"kind":    decision.Request.Kind.String(),
	}).Debug("Gate decision")

	if !decision.Respond {
		return nil
	}

	if decision.Reason == trigger.ReasonImage {
		return h.HandleImageRequest(ctx, message, decision.Request)
	}
	return h.handleText(ctx, log, message, decision.Text)
}

func (h *MessageHandler) handleText(ctx context.Context, log *logrus.Entry, message *tgbotapi.Message, text string) error {
	chatID := message.Chat.ID
	lang := h.language(message.From)

	if err := h.security.ValidateInput(text); err != nil {
		h.metrics.RecordRejection(rejectionReason(err))
		return h.reply(message, h.userMessage(lang, err))
	}

	if !h.rateLimiter.Allow(message.From.ID) {
		h.metrics.RecordRejection("flood")
		return h.reply(message, h.userMessage(lang, models.ErrRateLimited))
	}

	h.chatAction(chatID, tgbotapi.ChatTyping)

	messages := h.memory.BuildPromptContext(chatID, h.config.Context.SystemPrompt, text)
	response, err := h.aiService.GetResponse(ctx, messages, h.aiService.DefaultModel())
	if err != nil {
		log.WithError(err).Error("Failed to get AI response")
		h.metrics.RecordMessageProcessed("backend_failure")
		return h.reply(message, h.userMessage(lang, err))
	}

	h.memory.RememberExchange(chatID, text, response)
	h.metrics.RecordMessageProcessed("answered")

	return h.sendResponse(message, response)
}

// HandleImageRequest is the image pipeline shared by natural phrasing and the image commands.
// Quota is consumed on admission and never refunded; the cooldown starts only after delivery.
func (h *MessageHandler) HandleImageRequest(ctx context.Context, message *tgbotapi.Message, req trigger.Request) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	lang := h.language(message.From)
	log := logger.WithContext(h.logger, chatID, userID).WithField("phrase", req.Phrase)

	if err := h.security.ValidateInput(req.Text); err != nil {
		h.metrics.RecordRejection(rejectionReason(err))
		h.metrics.RecordImageRequest("rejected")
		return h.reply(message, h.userMessage(lang, err))
	}

	if req.Kind == trigger.KindMissingDescription || strings.TrimSpace(req.Description) == "" {
		h.metrics.RecordImageRequest("empty_description")
		return h.reply(message, h.userMessage(lang, models.ErrEmptyDescription))
	}

	admission, err := h.imageLimiter.Admit(userID)
	if err != nil {
		h.metrics.RecordRejection(rejectionReason(err))
		h.metrics.RecordImageRequest("limited")
		return h.reply(message, h.userMessage(lang, err))
	}

	h.chatAction(chatID, tgbotapi.ChatUploadPhoto)

	result, err := h.images.Generate(ctx, req.Description)
	if err == nil {
		var data []byte
		data, err = h.resolver.Resolve(ctx, result)
		if err == nil {
			return h.deliverImage(log, message, req, admission, result.Model, data)
		}
	}

	log.WithError(err).Error("Image generation failed")
	h.metrics.RecordImageRequest("failed")
	return h.reply(message, h.userMessage(lang, err))
}

func (h *MessageHandler) deliverImage(log *logrus.Entry, message *tgbotapi.Message, req trigger.Request, admission models.Admission, model string, data []byte) error {
	chatID := message.Chat.ID
	lang := h.language(message.From)

	caption := h.localizer.Get(lang, i18n.MsgImageCaption, map[string]interface{}{
		"Description": req.Description,
	})
	if admission.RemainingQuota != middleware.Unlimited {
		caption += "\n" + h.localizer.Get(lang, i18n.MsgQuotaRemaining, map[string]interface{}{
			"Remaining": admission.RemainingQuota,
		})
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: data})
	photo.Caption = truncateRunes(caption, maxCaptionLength)
	photo.ReplyToMessageID = message.MessageID

	if _, err := h.bot.Send(photo); err != nil {
		log.WithError(err).Error("Failed to send image")
		h.metrics.RecordImageRequest("delivery_failed")
		return nil
	}

	h.imageLimiter.MarkSuccess(message.From.ID)
	if h.config.Context.RememberImages {
		h.memory.RememberAll(chatID,
			models.Message{Role: models.RoleUser, Content: models.ImageRequestTurn + req.Description},
			models.Message{Role: models.RoleAssistant, Content: models.ImageSentTurn},
		)
	}

	log.WithFields(logrus.Fields{
		"model":           model,
		"bytes":           len(data),
		"remaining_quota": admission.RemainingQuota,
	}).Info("Image delivered")
	h.metrics.RecordImageRequest("delivered")
	return nil
}

// sendResponse sends the model's markdown as Telegram HTML, falling back to plain text
func (h *MessageHandler) sendResponse(message *tgbotapi.Message, response string) error {
	htmlResponse := markdown.ToTelegramHTML(response)

	if htmlResponse != "" && len([]rune(htmlResponse)) <= maxMessageLength {
		msg := tgbotapi.NewMessage(message.Chat.ID, htmlResponse)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.ReplyToMessageID = message.MessageID
		_, err := h.bot.Send(msg)
		if err == nil {
			return nil
		}
		h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
	}

	for i, chunk := range splitMessage(response, maxMessageLength) {
		msg := tgbotapi.NewMessage(message.Chat.ID, chunk)
		if i == 0 {
			msg.ReplyToMessageID = message.MessageID
		}
		if _, err := h.bot.Send(msg); err != nil {
			h.logger.WithError(err).Error("Failed to send response")
			return nil
		}
	}
	return nil
}

// reply sends a plain text reply. Delivery errors are logged and swallowed.
func (h *MessageHandler) reply(message *tgbotapi.Message, text string) error {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.WithError(err).WithField("chat_id", message.Chat.ID).Error("Failed to send reply")
	}
	return nil
}

func (h *MessageHandler) chatAction(chatID int64, action string) {
	if _, err := h.bot.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		h.logger.WithError(err).Debug("Failed to send chat action")
	}
}

func (h *MessageHandler) language(user *tgbotapi.User) string {
	return pickLanguage(user, h.config.I18n.Languages, h.config.I18n.DefaultLanguage)
}

// userMessage maps an error kind to the localized text shown to the user
func (h *MessageHandler) userMessage(lang string, err error) string {
	var cooldown *models.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return h.localizer.Get(lang, i18n.MsgCooldownActive, map[string]interface{}{
			"Seconds": cooldown.RemainingSeconds,
		})
	case errors.Is(err, models.ErrQuotaExhausted):
		return h.localizer.Get(lang, i18n.MsgQuotaExhausted, nil)
	case errors.Is(err, models.ErrContentRejected):
		return h.localizer.Get(lang, i18n.MsgContentRejected, nil)
	case errors.Is(err, models.ErrMessageTooLong):
		return h.localizer.Get(lang, i18n.MsgMessageTooLong, nil)
	case errors.Is(err, models.ErrEmptyDescription):
		return h.localizer.Get(lang, i18n.MsgEmptyDescription, nil)
	case errors.Is(err, models.ErrRateLimited):
		return h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil)
	default:
		return h.localizer.Get(lang, i18n.MsgBackendFailure, nil)
	}
}

func rejectionReason(err error) string {
	var cooldown *models.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return "cooldown"
	case errors.Is(err, models.ErrQuotaExhausted):
		return "quota"
	case errors.Is(err, models.ErrContentRejected):
		return "content"
	case errors.Is(err, models.ErrMessageTooLong):
		return "too_long"
	default:
		return "other"
	}
}
