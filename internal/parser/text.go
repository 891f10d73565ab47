package parser

import (
	"bufio"
	"context"
	"strings"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// TextParser handles plain text files. Blank lines separate paragraphs.
type TextParser struct{}

func (p *TextParser) Name() string             { return "text" }
func (p *TextParser) Formats() []detect.Format { return []detect.Format{detect.FormatText} }

func (p *TextParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	src, err := decodeText(data)
	if err != nil {
		return nil, corrupt("parse text", err)
	}

	paragraphs, err := splitParagraphs(src)
	if err != nil {
		return nil, corrupt("parse text", err)
	}
	if err := cancelled(ctx, "parse text"); err != nil {
		return nil, err
	}

	doc := newDocument(opts, detect.FormatText)
	for _, para := range paragraphs {
		doc.AddText(doctree.RootID, doctree.LabelParagraph, para)
	}
	if !doc.HasContent() {
		return doc, empty("parse text")
	}
	return doc, nil
}

// splitParagraphs splits text on blank lines, keeping line breaks inside a
// paragraph.
func splitParagraphs(src string) ([]string, error) {
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs, scanner.Err()
}
