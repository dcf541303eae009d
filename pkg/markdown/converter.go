package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.CommonExtensions &^ blackfriday.Tables

var (
	paragraphRe  = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe        = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// tags Telegram's HTML parse mode accepts
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true, "blockquote": true,
}

// ToTelegramHTML converts markdown produced by the model to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(extensions)))
	return cleanHTMLForTelegram(html)
}

func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")

	replacer := strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "",
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"<hr>", "", "<hr/>", "", "<hr />", "",
	)
	html = replacer.Replace(html)

	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		m := tagRe.FindStringSubmatch(match)
		if len(m) > 1 && supportedTags[strings.ToLower(m[1])] {
			return match
		}
		return ""
	})

	html = blankLinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
