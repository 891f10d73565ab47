package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

func mustParse(t *testing.T, b Backend, data []byte, filename string) *doctree.Document {
	t.Helper()
	doc, err := b.Parse(context.Background(), data, Options{Filename: filename})
	if err != nil {
		t.Fatalf("parse %s: %v", filename, err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("invalid tree: %v", err)
	}
	return doc
}

// outline renders the tree one node per line, indented by depth, as
// "label: text".
func outline(doc *doctree.Document) []string {
	var out []string
	doc.Walk(func(n *doctree.Node, depth int) error {
		line := strings.Repeat("  ", depth) + string(n.Label)
		if t := n.Text(); t != "" {
			line += ": " + t
		}
		if n.Table != nil {
			line += fmt.Sprintf(" %dx%d", n.Table.NumRows, n.Table.NumCols)
		}
		out = append(out, line)
		return nil
	})
	return out
}

func assertOutline(t *testing.T, doc *doctree.Document, want []string) {
	t.Helper()
	got := outline(doc)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("outline mismatch\n got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func firstOf(doc *doctree.Document, label doctree.Label) *doctree.Node {
	var found *doctree.Node
	doc.Walk(func(n *doctree.Node, _ int) error {
		if found == nil && n.Label == label {
			found = n
		}
		return nil
	})
	return found
}

func assertKind(t *testing.T, err error, want errs.Kind) {
	t.Helper()
	if got := errs.KindOf(err); got != want {
		t.Fatalf("expected error kind %q, got %q (%v)", want, got, err)
	}
}
