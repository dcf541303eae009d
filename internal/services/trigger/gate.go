package trigger

import (
	"regexp"
	"strings"
)

// Mention is a mention entity found in a message: the substring as written and the handle it refers to
type Mention struct {
	Text   string
	Handle string
}

// Message is everything the gate needs to know about an incoming message
type Message struct {
	Private   bool
	Text      string
	Mentions  []Mention
	BotHandle string
}

// Reason says why the gate let a message through
type Reason int

const (
	ReasonNone Reason = iota
	ReasonImage
	ReasonPrivate
	ReasonMention
	ReasonTriggerWord
)

func (r Reason) String() string {
	switch r {
	case ReasonImage:
		return "image"
	case ReasonPrivate:
		return "private"
	case ReasonMention:
		return "mention"
	case ReasonTriggerWord:
		return "trigger_word"
	default:
		return "none"
	}
}

// Decision is the gate's verdict
type Decision struct {
	Respond bool
	Reason  Reason
	Request Request
	// Text is the user's text with the bot mention and leading trigger word removed
	Text string
}

// Gate decides whether the bot acts on a message at all
type Gate struct {
	matcher  *Matcher
	triggers []*regexp.Regexp
}

// NewGate creates a gate that admits group messages starting with one of triggerWords
func NewGate(matcher *Matcher, triggerWords []string) *Gate {
	g := &Gate{matcher: matcher}
	for _, w := range triggerWords {
		if w = strings.TrimSpace(w); w == "" {
			continue
		}
		g.triggers = append(g.triggers, regexp.MustCompile(`(?i)^`+regexp.QuoteMeta(w)+wordEnd))
	}
	return g
}

// Decide classifies the message and decides admission.
// Image requests win over every other reason.
func (g *Gate) Decide(msg Message) Decision {
	req := g.matcher.Classify(msg.Text)
	text := strings.TrimSpace(msg.Text)

	if req.IsImage() {
		return Decision{Respond: true, Reason: ReasonImage, Request: req, Text: text}
	}

	mentioned := g.mentionsBot(msg)
	cleaned := g.cleanText(text, msg)

	switch {
	case msg.Private:
		return Decision{Respond: true, Reason: ReasonPrivate, Request: req, Text: cleaned}
	case req.Kind == KindIgnorable:
		return Decision{Request: req}
	case mentioned:
		return Decision{Respond: true, Reason: ReasonMention, Request: req, Text: cleaned}
	case g.startsWithTrigger(text):
		return Decision{Respond: true, Reason: ReasonTriggerWord, Request: req, Text: cleaned}
	}

	return Decision{Request: req}
}

func (g *Gate) mentionsBot(msg Message) bool {
	bot := strings.TrimPrefix(msg.BotHandle, "@")
	if bot == "" {
		return false
	}
	for _, m := range msg.Mentions {
		if strings.EqualFold(strings.TrimPrefix(m.Handle, "@"), bot) {
			return true
		}
	}
	return false
}

func (g *Gate) startsWithTrigger(text string) bool {
	for _, re := range g.triggers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// cleanText strips the bot's mentions and a leading trigger word.
// If nothing is left the original text is kept so the model still sees the greeting.
func (g *Gate) cleanText(text string, msg Message) string {
	cleaned := text
	bot := strings.TrimPrefix(msg.BotHandle, "@")
	for _, m := range msg.Mentions {
		if m.Text != "" && bot != "" && strings.EqualFold(strings.TrimPrefix(m.Handle, "@"), bot) {
			cleaned = strings.ReplaceAll(cleaned, m.Text, "")
		}
	}
	cleaned = strings.TrimSpace(cleaned)

	for _, re := range g.triggers {
		if loc := re.FindStringIndex(cleaned); loc != nil {
			cleaned = extractDescription(cleaned[loc[1]:])
			break
		}
	}

	if cleaned == "" {
		return text
	}
	return cleaned
}
