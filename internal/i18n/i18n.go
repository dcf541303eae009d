package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/vibe-coding-tgbot-go/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from <directory>/<lang>.json files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	base, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(base)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	dir := cfg.Directory
	if dir == "" {
		dir = "configs/i18n"
	}
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(filepath.Join(dir, lang+".json")); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// DefaultLanguage returns the configured fallback language
func (l *Localizer) DefaultLanguage() string {
	if l == nil {
		return ""
	}
	return l.defaultLanguage
}

// Get returns localized message. Unknown ids (or a nil Localizer) yield the id itself.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	if l == nil {
		return messageID
	}

	localizer, exists := l.localizers[lang]
	if !exists {
		localizer, exists = l.localizers[l.defaultLanguage]
	}
	if !exists {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome           = "welcome"
	MsgHelp              = "help"
	MsgAbout             = "about"
	MsgMemoryEmpty       = "memory_empty"
	MsgMemoryHeader      = "memory_header"
	MsgMemoryCleared     = "memory_cleared"
	MsgUnknownCommand    = "unknown_command"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgContentRejected   = "content_rejected"
	MsgCooldownActive    = "cooldown_active"
	MsgQuotaExhausted    = "quota_exhausted"
	MsgQuotaRemaining    = "quota_remaining"
	MsgEmptyDescription  = "empty_description"
	MsgBackendFailure    = "backend_failure"
	MsgMessageTooLong    = "message_too_long"
	MsgImageCaption      = "image_caption"
)
