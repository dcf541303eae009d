package trigger

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind classifies an incoming text
type Kind int

const (
	KindIgnorable Kind = iota
	KindConversation
	KindImage
	// KindMissingDescription is an image phrasing with nothing to draw after it
	KindMissingDescription
)

func (k Kind) String() string {
	switch k {
	case KindConversation:
		return "conversation"
	case KindImage:
		return "image"
	case KindMissingDescription:
		return "missing_description"
	default:
		return "ignorable"
	}
}

// Request is the result of classifying a message text
type Request struct {
	Kind        Kind
	Text        string // trimmed original text
	Description string // set for KindImage
	Phrase      string // the phrasing that matched, for logs
}

// IsImage reports whether the text asked for an image, with or without a description
func (r Request) IsImage() bool {
	return r.Kind == KindImage || r.Kind == KindMissingDescription
}

type rule struct {
	phrase string
	re     *regexp.Regexp
}

const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

// prefix rules only match at the start of the text, embedded rules anywhere on a word boundary
func newRule(phrase string, embedded bool) rule {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	start := `^`
	if embedded {
		start = wordStart
	}
	return rule{
		phrase: phrase,
		re:     regexp.MustCompile(`(?i)` + start + `(` + strings.Join(words, `\s+`) + `)` + wordEnd),
	}
}

func commandRule(command string) rule {
	return rule{
		phrase: "/" + command,
		re:     regexp.MustCompile(`(?i)^(/` + regexp.QuoteMeta(command) + `(?:@[A-Za-z0-9_]+)?)` + wordEnd),
	}
}

// Most specific first: at equal match positions the earlier rule wins
var (
	commandRules = []rule{
		commandRule("img"),
		commandRule("image"),
	}
	phraseRules = []rule{
		newRule("згенеруй зображення", true),
		newRule("згенеруй картинку", true),
		newRule("згенеруй малюнок", true),
		newRule("згенеруй фото", true),
		newRule("створи зображення", true),
		newRule("створи картинку", true),
		newRule("створи малюнок", true),
		newRule("намалюй картинку", true),
		newRule("намалюй зображення", true),
		newRule("generate an image", false),
		newRule("generate a picture", false),
		newRule("generate image", false),
		newRule("generate picture", false),
		newRule("create an image", false),
		newRule("create a picture", false),
		newRule("draw me", false),
		newRule("draw", false),
	}
	singleWordRules = []rule{
		newRule("намалюй", true),
		newRule("згенеруй", true),
	}
)

// Matcher classifies texts as image requests, conversation or noise
type Matcher struct {
	rules []rule
}

// NewMatcher builds the rule table. Extra phrases are matched anywhere in the text
// and take precedence over the single-word built-ins.
func NewMatcher(extraPhrases []string) *Matcher {
	rules := make([]rule, 0, len(commandRules)+len(phraseRules)+len(extraPhrases)+len(singleWordRules))
	rules = append(rules, commandRules...)
	rules = append(rules, phraseRules...)
	for _, p := range extraPhrases {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, newRule(p, true))
		}
	}
	rules = append(rules, singleWordRules...)
	return &Matcher{rules: rules}
}

// Classify returns what kind of request the text is
func (m *Matcher) Classify(text string) Request {
	text = strings.TrimSpace(text)
	if text == "" {
		return Request{Kind: KindIgnorable}
	}

	best, bestStart, bestEnd := -1, 0, 0
	for i, r := range m.rules {
		loc := r.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[2] < bestStart {
			best, bestStart, bestEnd = i, loc[2], loc[3]
		}
	}

	if best == -1 {
		return Request{Kind: KindConversation, Text: text}
	}

	description := extractDescription(text[bestEnd:])
	req := Request{Text: text, Phrase: m.rules[best].phrase}
	if description == "" {
		req.Kind = KindMissingDescription
		return req
	}
	req.Kind = KindImage
	req.Description = description
	return req
}

func extractDescription(rest string) string {
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '—' || r == '–'
	})
	return strings.TrimSpace(rest)
}
