package llm

import "strings"

// CleanResponse strips markdown code-fence markers that models wrap
// around JSON output.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON returns the largest balanced {...} or [...] substring of
// the cleaned response, or "" when none exists. Brackets inside JSON
// strings are ignored.
func ExtractJSON(s string) string {
	s = CleanResponse(s)

	best := ""
	for i := 0; i < len(s); i++ {
		open := s[i]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchBracket(s, i); end > i && end-i+1 > len(best) {
			best = s[i : end+1]
		}
	}
	return best
}

// matchBracket returns the index of the bracket closing s[start], or -1.
func matchBracket(s string, start int) int {
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
