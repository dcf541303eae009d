package handlers

import (
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vibe-coding-tgbot-go/internal/services/trigger"
	"golang.org/x/text/language"
)

// Telegram limits
const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// Bot is the part of *tgbotapi.BotAPI the handlers use
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// chatType labels a chat for metrics
func chatType(chat *tgbotapi.Chat) string {
	if chat == nil {
		return "unknown"
	}
	if chat.IsPrivate() {
		return "private"
	}
	if chat.IsGroup() || chat.IsSuperGroup() {
		return "group"
	}
	return chat.Type
}

// entityText returns the part of text an entity points at. Telegram counts offsets in UTF-16 code units.
func entityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length < 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

// mentionsOf collects @mentions and text mentions of a message
func mentionsOf(msg *tgbotapi.Message) []trigger.Mention {
	var mentions []trigger.Mention
	for _, e := range msg.Entities {
		switch e.Type {
		case "mention":
			text := entityText(msg.Text, e.Offset, e.Length)
			if text == "" {
				continue
			}
			mentions = append(mentions, trigger.Mention{Text: text, Handle: strings.TrimPrefix(text, "@")})
		case "text_mention":
			if e.User == nil {
				continue
			}
			mentions = append(mentions, trigger.Mention{
				Text:   entityText(msg.Text, e.Offset, e.Length),
				Handle: e.User.UserName,
			})
		}
	}
	return mentions
}

// commandForOtherBot reports whether a command was written as /cmd@someone_else
func commandForOtherBot(msg *tgbotapi.Message, botUserName string) bool {
	withAt := msg.CommandWithAt()
	i := strings.Index(withAt, "@")
	if i < 0 {
		return false
	}
	return !strings.EqualFold(withAt[i+1:], botUserName)
}

// pickLanguage returns the user's language when it is supported, the default otherwise
func pickLanguage(user *tgbotapi.User, supported []string, fallback string) string {
	if user == nil || user.LanguageCode == "" {
		return fallback
	}
	tag, err := language.Parse(user.LanguageCode)
	if err != nil {
		return fallback
	}
	base, _ := tag.Base()
	for _, lang := range supported {
		if strings.EqualFold(lang, base.String()) {
			return lang
		}
	}
	return fallback
}

// truncateRunes shortens s to at most n runes, marking the cut with an ellipsis
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

// splitMessage cuts text into chunks Telegram accepts, preferring line breaks
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
