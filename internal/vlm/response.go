package vlm

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/parser"
)

var htmlPolicy = bluemonday.UGCPolicy()

// AppendResponse converts one page's model answer in format f and appends
// the nodes to doc.
func AppendResponse(doc *doctree.Document, s string, f ResponseFormat, page *doctree.Page) error {
	var prov []doctree.ProvenanceItem
	if page != nil {
		prov = []doctree.ProvenanceItem{{Page: page.Number, Source: "vlm"}}
	}
	switch f {
	case FormatDocTags:
		AppendDocTags(doc, s, page)
	case FormatMarkdown:
		parser.AppendMarkdown(doc, []byte(s), prov)
	case FormatHTML:
		root, err := html.Parse(strings.NewReader(htmlPolicy.Sanitize(s)))
		if err != nil {
			return fmt.Errorf("parse html response: %w", err)
		}
		parser.AppendHTML(doc, root, prov)
	case FormatText:
		for _, para := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
			if text := collapse(para); text != "" {
				doc.AddText(doctree.RootID, doctree.LabelParagraph, text, prov...)
			}
		}
	default:
		return fmt.Errorf("unknown response format %q", f)
	}
	return nil
}
