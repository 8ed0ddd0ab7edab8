package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bdrman/bdrman/pkg/gateway"
)

func reply(req Request, text string) error {
	if req.Reply == nil {
		return nil
	}
	return req.Reply(text)
}

func codeBlock(s string) string {
	return "```\n" + strings.TrimRight(s, "\n") + "\n```"
}

// FormatResult renders a gateway result for chat: the title, then the output
// in a code block. Timeouts and failures get their own headline.
func FormatResult(title string, res gateway.Result) string {
	switch {
	case res.TimedOut:
		return fmt.Sprintf("⏱ **%s**: %s", title, res.Output)
	case res.Failed:
		return fmt.Sprintf("❌ **%s** failed (exit %d):\n%s", title, res.ExitCode, codeBlock(res.Output))
	default:
		return fmt.Sprintf("**%s**\n%s", title, codeBlock(res.Output))
	}
}

// FormatError turns a handler error into a reply without internal detail.
func FormatError(err error) string {
	switch {
	case errors.Is(err, gateway.ErrValidationRejected):
		return "⛔ Command blocked for security reasons."
	case errors.Is(err, gateway.ErrInvalidArgument):
		return "⚠️ " + err.Error()
	case errors.Is(err, gateway.ErrTimeout):
		return "⏱ Command timed out."
	default:
		return "❌ Error: " + err.Error()
	}
}

func FormatHelp(title string, defs []Definition) string {
	if len(defs) == 0 {
		return "No commands available."
	}

	byCategory := make(map[Category][]Definition)
	for _, def := range defs {
		cat := def.Category
		if cat == "" {
			cat = CategoryGeneral
		}
		byCategory[cat] = append(byCategory[cat], def)
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	for _, cat := range categoryOrder {
		list := byCategory[cat]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n", cat)
		for _, def := range list {
			usage := def.Usage
			if usage == "" {
				usage = "/" + def.Name
			}
			desc := def.Description
			if desc == "" {
				desc = "No description"
			}
			if def.Critical {
				desc += " 🔐"
			}
			fmt.Fprintf(&b, "%s - %s\n", usage, desc)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
