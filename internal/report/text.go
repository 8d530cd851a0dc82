package report

import "strings"

// messageLimit is the transport's maximum message length.
const messageLimit = 4096

var markupRunes = []string{"*", "_", "`"}

// ChunkText splits text into transport-sized pieces. The split point is
// the last newline inside the final fifth of the chunk; without one the
// chunk is cut at the raw limit.
func ChunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = messageLimit
	}

	var chunks []string
	runes := []rune(text)

	for len(runes) > limit {
		cut := limit
		window := string(runes[:limit])

		if idx := strings.LastIndex(window, "\n"); idx >= 0 {
			if pos := len([]rune(window[:idx])); pos >= limit*4/5 {
				cut = pos + 1
			}
		}

		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}

	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}

	return chunks
}

// BalanceMarkup escapes the last occurrence of any markup delimiter that
// appears an odd number of times, so the transport's parser sees pairs.
func BalanceMarkup(text string) string {
	for _, d := range markupRunes {
		if strings.Count(text, d)%2 == 0 {
			continue
		}

		idx := strings.LastIndex(text, d)
		text = text[:idx] + `\` + text[idx:]
	}

	return text
}

// StripMarkup removes every markup delimiter. Last resort before
// delivering plain text.
func StripMarkup(text string) string {
	for _, d := range markupRunes {
		text = strings.ReplaceAll(text, d, "")
	}

	return text
}
