package generate

import "strings"

// extractFirstJSON returns the first balanced JSON object or array in
// text, tolerating prose or code fences around it. Returns "" when no
// balanced value is found (typically a truncated response).
func extractFirstJSON(text string) string {
	start := -1
	var opener, closer byte
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			start, opener, closer = i, '{', '}'
		case '[':
			start, opener, closer = i, '[', ']'
		default:
			continue
		}
		break
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripCodeFence removes a surrounding ``` fence if the model emitted
// one, keeping the inner code untouched.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	lines := strings.Split(t, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
