package relay

// Split slices text into contiguous segments of at most maxLen bytes each,
// preserving order. Splits may land mid-word: the bound is the platform's
// message-size limit, not readability. Empty input yields no segments.
// Concatenating the result reconstructs text exactly.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 || text == "" {
		return nil
	}

	segments := make([]string, 0, (len(text)+maxLen-1)/maxLen)
	for len(text) > maxLen {
		segments = append(segments, text[:maxLen])
		text = text[maxLen:]
	}
	return append(segments, text)
}
