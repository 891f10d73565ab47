// Package export serializes documents to Markdown, JSON, YAML and an
// indented text view, and reads JSON and YAML back. Exporters never modify
// the document.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatText     Format = "text"
)

// Formats lists the export formats.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatYAML, FormatText}

// ParseFormat accepts a format name or a common file extension.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "markdown", "md":
		return FormatMarkdown, true
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	case "text", "txt":
		return FormatText, true
	}
	return "", false
}

// ContentType returns the MIME type of an export format.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	}
	return "text/plain; charset=utf-8"
}

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	}
	return ".txt"
}

// Render exports doc in format f with default options.
func Render(doc *doctree.Document, f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		s, err := Markdown(doc, MarkdownOptions{})
		return []byte(s), err
	case FormatJSON:
		return JSON(doc)
	case FormatYAML:
		return YAML(doc)
	case FormatText:
		s, err := Text(doc, TextOptions{})
		return []byte(s), err
	}
	return nil, errs.Newf(errs.KindExportError, "export", "unknown format %q", f)
}

// Write exports doc to w in format f with default options.
func Write(w io.Writer, doc *doctree.Document, f Format) error {
	out, err := Render(doc, f)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return errs.New(errs.KindExportError, "export", err)
	}
	return nil
}

// check rejects structurally broken documents before traversal.
func check(doc *doctree.Document, op string) error {
	if doc == nil {
		return errs.Newf(errs.KindExportError, op, "nil document")
	}
	if err := doc.Validate(); err != nil {
		return errs.New(errs.KindExportError, op, err)
	}
	return nil
}

func exportErr(op string, format string, args ...any) error {
	return errs.New(errs.KindExportError, op, fmt.Errorf(format, args...))
}
