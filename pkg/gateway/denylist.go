package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultDenyPatterns block catastrophic fragments in free-form command lines.
// Fixed operation templates never pass through this list.
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-z]*[rf][a-z]*\b`),
	regexp.MustCompile(`\brm\s+.*--no-preserve-root`),
	regexp.MustCompile(`\b(mkfs|wipefs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+.*\b(if|of)=`),
	regexp.MustCompile(`>\s*/dev/(sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d)`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`\binit\s+[06]\b`),
	regexp.MustCompile(`\|\s*(sh|bash|zsh)\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\bchmod\s+(-r\s+)?0?777\s+/(\s|$)`),
	regexp.MustCompile(`>\s*/etc/(passwd|shadow|sudoers)\b`),
}

func compileDenyPatterns(extra []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, len(defaultDenyPatterns), len(defaultDenyPatterns)+len(extra))
	copy(patterns, defaultDenyPatterns)

	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// matchDenied returns the first pattern the lower-cased line matches.
func matchDenied(patterns []*regexp.Regexp, line string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, re := range patterns {
		if re.MatchString(lower) {
			return re.String(), true
		}
	}
	return "", false
}
