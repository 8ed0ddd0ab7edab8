package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxMessageLength = 4096
	splitTarget      = 3900
)

var (
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	reQuote      = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldAlt    = regexp.MustCompile(`__(.+?)__`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reBullet     = regexp.MustCompile(`(?m)^[-*]\s+`)
	reCodeBlock  = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
)

// markdownToHTML renders the small markdown subset used by command replies
// into Telegram HTML. Code spans are lifted out first so their content is
// escaped but never formatted.
func markdownToHTML(text string) string {
	if text == "" {
		return ""
	}

	text, blocks := extractPlaceholders(text, reCodeBlock, "CB")
	text, inline := extractPlaceholders(text, reInlineCode, "IC")

	text = reHeading.ReplaceAllString(text, "$1")
	text = reQuote.ReplaceAllString(text, "$1")
	text = escapeHTML(text)
	text = reLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reBoldAlt.ReplaceAllString(text, "<b>$1</b>")
	text = reStrike.ReplaceAllString(text, "<s>$1</s>")
	text = reBullet.ReplaceAllString(text, "• ")

	for i, code := range inline {
		text = strings.ReplaceAll(text, placeholder("IC", i), "<code>"+escapeHTML(code)+"</code>")
	}
	for i, code := range blocks {
		text = strings.ReplaceAll(text, placeholder("CB", i), "<pre>"+escapeHTML(code)+"</pre>")
	}
	return text
}

func placeholder(kind string, i int) string {
	return fmt.Sprintf("\x00%s%d\x00", kind, i)
}

func extractPlaceholders(text string, re *regexp.Regexp, kind string) (string, []string) {
	matches := re.FindAllStringSubmatch(text, -1)
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}

	i := 0
	text = re.ReplaceAllStringFunc(text, func(string) string {
		p := placeholder(kind, i)
		i++
		return p
	})
	return text, codes
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// splitMessage cuts text into chunks whose rendered HTML fits in maxLen runes,
// preferring paragraph, then line, then word boundaries.
func splitMessage(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 || runeLen(markdownToHTML(text)) <= maxLen {
		return []string{text}
	}

	target := splitTarget
	if target >= maxLen {
		target = maxLen - 64
	}
	if target < 256 {
		target = maxLen / 2
	}
	if target < 1 {
		target = 1
	}

	parts := splitByBoundary(text, target)
	if len(parts) == 1 {
		runes := []rune(text)
		if len(runes) <= 1 {
			return parts
		}
		mid := len(runes) / 2
		parts = []string{string(runes[:mid]), string(runes[mid:])}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, splitMessage(p, maxLen)...)
		}
	}
	return out
}

func splitByBoundary(text string, limit int) []string {
	runes := []rune(text)
	var result []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			if tail := strings.TrimSpace(string(runes)); tail != "" {
				result = append(result, tail)
			}
			break
		}

		at := findSplitPoint(runes, limit)
		if chunk := strings.TrimSpace(string(runes[:at])); chunk != "" {
			result = append(result, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[at:]), " \t\r\n"))
	}
	return result
}

func findSplitPoint(runes []rune, limit int) int {
	if len(runes) <= limit {
		return len(runes)
	}
	if limit <= 1 {
		return 1
	}

	floor := max(limit/2, 1)
	for i := limit; i > floor; i-- {
		if i > 1 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := limit; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := limit; i > floor; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\t' {
			return i
		}
	}
	return limit
}

func runeLen(text string) int {
	return len([]rune(text))
}
