package chunk

import (
	"fmt"
	"strings"
)

// hintRule pairs a label with the keywords that select it. Rules are
// evaluated in order, first match wins.
type hintRule struct {
	label    string
	keywords []string
}

// hintRules classifies chunks into known activity categories from their
// app/window/url context and accumulated text. Advisory only: the label is
// a hint for downstream summarization, never a control decision.
var hintRules = []hintRule{
	{"CRM work", []string{"salesforce", "hubspot", "pipedrive", "zoho", "crm"}},
	{"reading or writing documentation", []string{"confluence", "notion", "wiki", "docs.google", "readme"}},
	{"coding", []string{"github", "gitlab", "vs code", "visual studio", "intellij", "vim", "terminal", "stack overflow", "localhost"}},
	{"messaging", []string{"slack", "discord", "teams", "telegram", "whatsapp", "signal"}},
	{"email", []string{"gmail", "outlook", "thunderbird", "mail"}},
	{"browser research", []string{"google.", "bing.", "duckduckgo", "wikipedia", "search"}},
}

// summaryHint labels a finalized chunk. Keyword rules run first over the
// lowercase concatenation of context and content; generic heuristics over
// the highlight shapes are the fallback.
func summaryHint(ch Chunk) string {
	var b strings.Builder
	b.WriteString(ch.PrimaryApp)
	b.WriteByte(' ')
	b.WriteString(ch.WindowTitle)
	b.WriteByte(' ')
	b.WriteString(ch.PrimaryURL)
	for _, t := range ch.Highlights.ClipboardTexts {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	for _, t := range ch.Highlights.InputTexts {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	haystack := strings.ToLower(b.String())

	for _, rule := range hintRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.label
			}
		}
	}

	hasInput := len(ch.Highlights.InputTexts) > 0
	hasClipboard := len(ch.Highlights.ClipboardTexts) > 0
	switch {
	case hasInput && hasClipboard:
		return "active content creation"
	case hasInput:
		return "text input"
	case hasClipboard:
		return "information gathering"
	}
	return fmt.Sprintf("%s activity", ch.PrimaryApp)
}
