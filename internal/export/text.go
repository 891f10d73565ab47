package export

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
)

// TextOptions tune the debug view.
type TextOptions struct {
	// MaxTextLen truncates node text; 0 means 60 characters, negative
	// means no limit.
	MaxTextLen int
}

// Text renders an indented outline of the tree, one node per line with its
// ID, label, level and page, for debugging.
func Text(doc *doctree.Document, opts TextOptions) (string, error) {
	if err := check(doc, "export text"); err != nil {
		return "", err
	}
	limit := opts.MaxTextLen
	if limit == 0 {
		limit = 60
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%d pages)\n", doctree.RootID.Ref(), doc.Name, len(doc.Pages))
	err := doc.Walk(func(n *doctree.Node, depth int) error {
		b.WriteString(strings.Repeat("  ", depth+1))
		fmt.Fprintf(&b, "%s %s", n.ID.Ref(), n.Label)
		if n.Level > 0 {
			fmt.Fprintf(&b, " level=%d", n.Level)
		}
		if p := n.Page(); p > 0 {
			fmt.Fprintf(&b, " page=%d", p)
		}
		switch {
		case n.Table != nil:
			fmt.Fprintf(&b, " %dx%d", n.Table.NumRows, n.Table.NumCols)
		case n.Image != nil && n.Image.MimeType != "":
			fmt.Fprintf(&b, " %s", n.Image.MimeType)
		}
		if text := n.Text(); text != "" {
			fmt.Fprintf(&b, ": %q", truncateRunes(text, limit))
		}
		b.WriteString("\n")
		return nil
	})
	if err != nil {
		return "", exportErr("export text", "%v", err)
	}
	return b.String(), nil
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
