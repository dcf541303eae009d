package middleware

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibe-coding-tgbot-go/internal/models"
)

// maxInputLength is Telegram's message size limit
const maxInputLength = 4096

// SecurityMiddleware provides the static content checks applied before any backend call
type SecurityMiddleware struct {
	banned []string
	logger logrus.FieldLogger
}

// NewSecurityMiddleware creates security middleware with the given banned substrings
func NewSecurityMiddleware(bannedWords []string, logger logrus.FieldLogger) *SecurityMiddleware {
	banned := make([]string, 0, len(bannedWords))
	for _, w := range bannedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			banned = append(banned, w)
		}
	}
	return &SecurityMiddleware{
		banned: banned,
		logger: logger,
	}
}

// Violates reports whether text contains any banned substring, ignoring case
func (s *SecurityMiddleware) Violates(text string) bool {
	if len(s.banned) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range s.banned {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ValidateInput performs input validation
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if len(text) > maxInputLength {
		return fmt.Errorf("%w: %d bytes", models.ErrMessageTooLong, len(text))
	}
	if s.Violates(text) {
		s.logger.WithField("length", len(text)).Info("Input rejected by content filter")
		return models.ErrContentRejected
	}
	return nil
}
