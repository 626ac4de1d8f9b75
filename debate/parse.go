package debate

import (
	"strings"
)

// Default stance labels used when the generator's answer cannot be parsed.
const (
	DefaultStanceA = "Pro"
	DefaultStanceB = "Con"
)

// ParseStances extracts the "A: ..." and "B: ..." labels from a stance
// answer. The prefixes are case-insensitive and missing or empty labels fall
// back to DefaultStanceA and DefaultStanceB.
func ParseStances(text string) (a, b string) {
	a, b = DefaultStanceA, DefaultStanceB
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		value := strings.TrimSpace(line[2:])
		if value == "" {
			continue
		}
		switch line[0] {
		case 'a', 'A':
			a = value
		case 'b', 'B':
			b = value
		}
	}
	return a, b
}

// ParseWinner returns "A" or "B" from a "Winner: X" line of a verdict, or ""
// when the verdict names no valid winner.
func ParseWinner(verdict string) string {
	for _, line := range strings.Split(verdict, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "*_# ")
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.Trim(key, "*_ "), "winner") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "*_ ")
		value = strings.TrimPrefix(strings.TrimPrefix(value, "Debater "), "debater ")
		if value == "" {
			return ""
		}
		switch value[0] {
		case 'A', 'a':
			if len(value) == 1 || !isLetter(value[1]) {
				return string(SideA)
			}
		case 'B', 'b':
			if len(value) == 1 || !isLetter(value[1]) {
				return string(SideB)
			}
		}
		return ""
	}
	return ""
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
