package vlm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned for answers with no usable content.
var ErrEmptyResponse = errors.New("vlm: empty response")

// maxRepeats is how many identical consecutive lines are kept before the
// rest of a runaway repetition is dropped.
const maxRepeats = 3

// CleanResponse trims code fences and cuts runaway repetition, where the
// model emits the same line over and over until it hits its token limit.
func CleanResponse(s string) string {
	s = stripCodeBlock(s)
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	run := 0
	for i, l := range lines {
		if i > 0 && strings.TrimSpace(l) != "" && l == lines[i-1] {
			run++
		} else {
			run = 0
		}
		if run >= maxRepeats {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ValidateResponse rejects answers that cannot be the requested markup.
func ValidateResponse(s string, f ResponseFormat) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyResponse
	}
	switch f {
	case FormatDocTags:
		if !dtTagRe.MatchString(s) {
			return fmt.Errorf("vlm: response has no DocTags markup: %s", truncate(s, 80))
		}
	case FormatHTML:
		if !strings.Contains(s, "<") {
			return fmt.Errorf("vlm: response has no HTML markup: %s", truncate(s, 80))
		}
	}
	return nil
}
