package document

import (
	"strings"
)

// ParseTerms splits terms text into paragraphs. Blank lines separate
// paragraphs; lines starting with "-" or "*" are bullets, numbered lines keep
// their numbers.
func ParseTerms(text string) []Paragraph {
	var (
		out     []Paragraph
		current []string
		bullet  bool
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, Paragraph{Text: strings.Join(current, " "), Bullet: bullet})
		}
		current, bullet = nil, false
	}
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			flush()
			bullet = true
			current = append(current, strings.TrimSpace(line[2:]))
		case startsNumbered(line):
			flush()
			current = append(current, line)
		default:
			current = append(current, line)
		}
	}
	flush()
	return out
}

func startsNumbered(line string) bool {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}
