package chunk

import (
	"regexp"
	"strings"
)

// span is a half-open byte range of the source text.
type span struct {
	start int
	end   int
}

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

type line struct {
	start int
	text  string
}

func splitLines(text string) []line {
	var lines []line
	offset := 0
	for {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			lines = append(lines, line{start: offset, text: text[offset:]})
			return lines
		}
		lines = append(lines, line{start: offset, text: text[offset : offset+idx]})
		offset += idx + 1
	}
}

func isTableRow(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && strings.Contains(s, "|")
}

func isClosing(b byte) bool {
	switch b {
	case '"', '\'', ')', ']', '}':
		return true
	}
	return false
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r'
}

// splitSentences returns the sentence spans of text in order. Blank lines end
// a sentence, markdown tables stay in one span and "1." at the start of a line
// is treated as list numbering.
func splitSentences(text string) []span {
	lines := splitLines(text)
	var spans []span
	cur := -1
	last := -1

	flush := func() {
		if cur >= 0 && last > cur {
			spans = append(spans, span{start: cur, end: last})
		}
		cur, last = -1, -1
	}

	for i := 0; i < len(lines); i++ {
		l := lines[i]
		trimmed := strings.TrimSpace(l.text)

		if trimmed == "" {
			flush()
			continue
		}

		if isTableRow(l.text) && i+1 < len(lines) && tableDelimRe.MatchString(lines[i+1].text) {
			flush()
			start := l.start + strings.Index(l.text, trimmed)
			end := l.start + len(strings.TrimRight(l.text, " \t\r"))
			for i+1 < len(lines) && isTableRow(lines[i+1].text) {
				i++
				end = lines[i].start + len(strings.TrimRight(lines[i].text, " \t\r"))
			}
			spans = append(spans, span{start: start, end: end})
			continue
		}

		scanLine(l, &cur, &last, flush)
	}
	flush()
	return spans
}

// scanLine extends the open sentence with the content of l and closes it at
// every sentence terminator.
func scanLine(l line, cur *int, last *int, flush func()) {
	s := l.text
	for j := 0; j < len(s); j++ {
		if isSpace(s[j]) {
			continue
		}
		if *cur < 0 {
			*cur = l.start + j
		}
		*last = l.start + j + 1

		if !isTerminator(s[j]) {
			continue
		}
		if s[j] == '.' && isListNumber(s[:j]) {
			continue
		}

		k := j + 1
		for k < len(s) && isTerminator(s[k]) {
			k++
		}
		for k < len(s) && isClosing(s[k]) {
			k++
		}
		if k < len(s) && !isSpace(s[k]) {
			// abbreviation or decimal such as "e.g" or "3.5"
			j = k - 1
			*last = l.start + k
			continue
		}
		*last = l.start + k
		flush()
		j = k - 1
	}
}

// isListNumber reports whether prefix (the line up to a period) is only a
// list number such as "12".
func isListNumber(prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return false
		}
	}
	return true
}
