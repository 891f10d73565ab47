// Package vlm reads page images with a vision-language model. It holds the
// model capability, the remote HTTP and OpenAI-compatible clients, and the
// conversion of model responses (DocTags, Markdown, HTML, plain text) into
// document nodes.
package vlm

import (
	"context"
	"strings"
)

// ResponseFormat selects what markup the model is asked to produce.
type ResponseFormat string

const (
	FormatDocTags  ResponseFormat = "DOCTAGS"
	FormatMarkdown ResponseFormat = "MARKDOWN"
	FormatHTML     ResponseFormat = "HTML"
	FormatText     ResponseFormat = "TEXT"
)

// ParseResponseFormat accepts a format name in any case.
func ParseResponseFormat(s string) (ResponseFormat, bool) {
	f := ResponseFormat(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FormatDocTags, FormatMarkdown, FormatHTML, FormatText:
		return f, true
	}
	return "", false
}

// Request is one page sent to a model.
type Request struct {
	Image    []byte
	MimeType string
	Prompt   string
	Format   ResponseFormat
	Page     int
}

// Model turns a page image into markup. Implementations must be safe for
// concurrent use.
type Model interface {
	Name() string
	// Remote reports whether the model is reached over the network.
	Remote() bool
	Generate(ctx context.Context, req Request) (string, error)
}
