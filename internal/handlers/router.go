package handlers

import (
	"context"
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/middleware"
)

// Router sends each update to the command or message handler
type Router struct {
	commands *CommandHandler
	messages *MessageHandler
	metrics  *middleware.Metrics
	logger   logrus.FieldLogger
}

// NewRouter wires both handlers from the same dependencies
func NewRouter(d Deps) *Router {
	messages := NewMessageHandler(d)
	return &Router{
		commands: NewCommandHandler(d, messages),
		messages: messages,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// HandleUpdate processes one update. It is safe to call from many goroutines; a panic
// in one update is logged and does not reach the caller.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"update_id": update.UpdateID,
				"panic":     fmt.Sprint(rec),
				"stack":     string(debug.Stack()),
			}).Error("Recovered from panic while handling update")
			r.metrics.RecordMessageProcessed("panic")
		}
	}()

	r.metrics.RecordMessageReceived(chatType(message.Chat))

	var err error
	if message.IsCommand() {
		err = r.commands.HandleCommand(ctx, message)
	} else {
		err = r.messages.HandleMessage(ctx, message)
	}

	if err != nil {
		r.logger.WithError(err).WithField("update_id", update.UpdateID).Error("Failed to handle update")
		r.metrics.RecordMessageProcessed("error")
	}
}
