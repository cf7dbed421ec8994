package ingest

// Chunk splits text into fixed-size overlapping windows. Deterministic:
// the same text with the same size/overlap always yields the same ordered
// sequence. The final window may be shorter than size; it is always kept.
// Operates on runes so multi-byte text never splits mid-character.
func Chunk(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
