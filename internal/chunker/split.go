package chunker

import "strings"

// splitText breaks text into pieces accepted by fits at sentence boundaries,
// falling back to word boundaries for sentences that do not fit on their
// own.
func splitText(text string, fits func(string) bool) []string {
	var (
		result  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			result = append(result, current.String())
			current.Reset()
		}
	}
	for _, sent := range splitSentences(text) {
		if !fits(sent) {
			flush()
			result = append(result, splitWords(sent, fits)...)
			continue
		}
		candidate := sent
		if current.Len() > 0 {
			candidate = current.String() + " " + sent
		}
		if !fits(candidate) {
			flush()
			candidate = sent
		}
		current.Reset()
		current.WriteString(candidate)
	}
	flush()
	return result
}

// splitWords packs words greedily while fits accepts them. A single word
// that does not fit is emitted alone.
func splitWords(text string, fits func(string) bool) []string {
	var (
		result []string
		words  []string
	)
	for _, w := range strings.Fields(text) {
		if len(words) > 0 && !fits(strings.Join(append(words, w), " ")) {
			result = append(result, strings.Join(words, " "))
			words = words[:0]
		}
		words = append(words, w)
	}
	if len(words) > 0 {
		result = append(result, strings.Join(words, " "))
	}
	return result
}

// splitSentences does basic sentence splitting.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
