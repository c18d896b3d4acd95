package querygen

import "strings"

// Chunk splits doc into pieces of at most maxLen characters, cutting at the
// last space inside the window when there is one. Periods are removed and
// each piece is trimmed; pieces that end up empty are dropped.
func Chunk(doc string, maxLen int) []string {
	if maxLen < 1 {
		maxLen = 1
	}
	runes := []rune(doc)

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxLen
		if end >= len(runes) {
			end = len(runes)
		} else if space := lastSpace(runes, start, end); space > start {
			end = space
		}

		piece := strings.TrimSpace(strings.ReplaceAll(string(runes[start:end]), ".", ""))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		start = end
	}
	return chunks
}

// lastSpace returns the index of the last ' ' in runes[start:end], or -1.
func lastSpace(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// summaryBounds returns the summary length bounds for a chunk. Chunks too
// short for the configured bounds get bounds proportional to their length.
func summaryBounds(chunk string, minLen, maxLen int) (int, int) {
	n := len([]rune(chunk))
	if n > maxLen*2 {
		return minLen, maxLen
	}
	return n / 4, n / 2
}

// documentText drops the leading name and year fields of a tab-separated
// speech record. Text without tabs is returned unchanged.
func documentText(raw string) string {
	fields := strings.SplitN(raw, "\t", 4)
	if len(fields) < 3 {
		return raw
	}
	return fields[2]
}
