// Package message prepares rich-text messages for the backend and renders
// revealed ones for the terminal.
//
// Messages travel as HTML. Outgoing and revealed HTML is passed through a
// user-generated-content sanitising policy; plain text typed at the prompt is
// escaped and wrapped in paragraphs. Revealed HTML is shown as Markdown.
package message

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce  sync.Once
	ugcPolicy   *bluemonday.Policy
	stripPolicy *bluemonday.Policy

	tagPattern       = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][a-zA-Z0-9]*[^>]*>`)
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
)

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policyOnce.Do(func() {
		ugcPolicy = bluemonday.UGCPolicy()
		stripPolicy = bluemonday.StrictPolicy()
	})
	return ugcPolicy, stripPolicy
}

// Sanitize removes scripts, event handlers and other unsafe markup.
func Sanitize(htmlText string) string {
	ugc, _ := policies()
	return strings.TrimSpace(ugc.Sanitize(htmlText))
}

// LooksLikeHTML reports whether s contains at least one tag.
func LooksLikeHTML(s string) bool {
	return tagPattern.MatchString(s)
}

// FromPlainText escapes text and wraps blank-line separated blocks in <p>.
// Single newlines become <br>.
func FromPlainText(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, block := range paragraphPattern.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		for i := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(lines[i]))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// Compose turns user input into the HTML sent to the backend.
func Compose(input string) string {
	if LooksLikeHTML(input) {
		return Sanitize(input)
	}
	return FromPlainText(input)
}

// IsBlank reports whether htmlText carries no visible text, as an empty
// editor's "<p></p>" or "<p><br></p>" does.
func IsBlank(htmlText string) bool {
	_, strip := policies()
	return strings.TrimSpace(html.UnescapeString(strip.Sanitize(htmlText))) == ""
}

// Renderer converts HTML to Markdown for terminal display.
type Renderer struct {
	conv *converter.Converter
}

// NewRenderer builds a renderer with commonmark and table support.
func NewRenderer() *Renderer {
	return &Renderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Render sanitizes htmlText and converts it to Markdown. When conversion fails
// the tag-stripped text is returned instead.
func (r *Renderer) Render(htmlText string) string {
	clean := Sanitize(htmlText)
	if !LooksLikeHTML(clean) {
		return html.UnescapeString(clean)
	}
	result, err := r.conv.ConvertString(clean)
	if err != nil || strings.TrimSpace(result) == "" {
		_, strip := policies()
		return strings.TrimSpace(html.UnescapeString(strip.Sanitize(clean)))
	}
	return strings.TrimSpace(result)
}
