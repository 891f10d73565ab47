package parser

import (
	"context"
	"testing"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

func TestMarkdownParser_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	doc := mustParse(t, &MarkdownParser{}, []byte(input), "doc.md")
	if doc.Name != "doc" {
		t.Errorf("expected name %q, got %q", "doc", doc.Name)
	}
	assertOutline(t, doc, []string{
		"heading: Title",
		"  paragraph: Intro text.",
		"  heading: Section A",
		"    paragraph: Section A content.",
		"    heading: Subsection A1",
		"      paragraph: Subsection A1 content.",
		"  heading: Section B",
		"    paragraph: Section B content.",
	})
}

func TestMarkdownParser_SkippedLevels(t *testing.T) {
	input := "# Top\n\n### Deep\n\nbody\n\n## Middle\n"
	doc := mustParse(t, &MarkdownParser{}, []byte(input), "doc.md")
	assertOutline(t, doc, []string{
		"heading: Top",
		"  heading: Deep",
		"    paragraph: body",
		"  heading: Middle",
	})
	if lvl := firstOf(doc, doctree.LabelHeading).Level; lvl != 1 {
		t.Errorf("expected level 1, got %d", lvl)
	}
}

func TestMarkdownParser_Lists(t *testing.T) {
	input := "- one\n- two\n  - nested\n\n1. first\n2. second\n"
	doc := mustParse(t, &MarkdownParser{}, []byte(input), "lists.md")
	assertOutline(t, doc, []string{
		"list",
		"  list_item: one",
		"  list_item: two",
		"    list",
		"      list_item: nested",
		"list",
		"  list_item: first",
		"  list_item: second",
	})

	var lists []*doctree.Node
	doc.Walk(func(n *doctree.Node, _ int) error {
		if n.Label == doctree.LabelList {
			lists = append(lists, n)
		}
		return nil
	})
	if len(lists) != 3 {
		t.Fatalf("expected 3 lists, got %d", len(lists))
	}
	if lists[1].Level != 2 {
		t.Errorf("nested list level: expected 2, got %d", lists[1].Level)
	}
	if !lists[2].Enumerated {
		t.Error("expected ordered list to be enumerated")
	}
	if m := doc.Node(lists[2].Children[1]).Marker; m != "2." {
		t.Errorf("expected marker %q, got %q", "2.", m)
	}
}

func TestMarkdownParser_CodeAndTable(t *testing.T) {
	input := "```go\nfmt.Println(1)\n```\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	doc := mustParse(t, &MarkdownParser{}, []byte(input), "x.md")
	assertOutline(t, doc, []string{
		"code: fmt.Println(1)",
		"table 2x2",
	})
	if lang := firstOf(doc, doctree.LabelCode).Language; lang != "go" {
		t.Errorf("expected language go, got %q", lang)
	}
	tbl := firstOf(doc, doctree.LabelTable).Table
	if tbl.HeaderRows() != 1 {
		t.Errorf("expected 1 header row, got %d", tbl.HeaderRows())
	}
	rows, err := tbl.Rows()
	if err != nil {
		t.Fatal(err)
	}
	if rows[1][1] != "2" {
		t.Errorf("expected cell (1,1) = 2, got %q", rows[1][1])
	}
}

func TestMarkdownParser_InlineFormatting(t *testing.T) {
	input := "Some **bold** and *it* [link](http://x)."
	doc := mustParse(t, &MarkdownParser{}, []byte(input), "x.md")
	p := firstOf(doc, doctree.LabelParagraph)
	if p.Text() != "Some bold and it link." {
		t.Fatalf("unexpected text %q", p.Text())
	}
	var bold, italic, href bool
	for _, r := range p.Runs {
		bold = bold || (r.Bold && r.Text == "bold")
		italic = italic || (r.Italic && r.Text == "it")
		href = href || (r.Href == "http://x" && r.Text == "link")
	}
	if !bold || !italic || !href {
		t.Errorf("missing formatting: bold=%v italic=%v href=%v runs=%+v", bold, italic, href, p.Runs)
	}
}

func TestMarkdownParser_ImageBecomesFigure(t *testing.T) {
	doc := mustParse(t, &MarkdownParser{}, []byte("![A chart](chart.png)\n"), "x.md")
	assertOutline(t, doc, []string{
		"figure",
		"  caption: A chart",
	})
	fig := firstOf(doc, doctree.LabelFigure)
	if fig.Image == nil || fig.Image.URI != "chart.png" {
		t.Errorf("unexpected image ref %+v", fig.Image)
	}
	if len(fig.Captions) != 1 {
		t.Errorf("expected caption reference, got %v", fig.Captions)
	}
}

func TestMarkdownParser_Empty(t *testing.T) {
	doc, err := (&MarkdownParser{}).Parse(context.Background(), []byte("  \n\n"), Options{Filename: "e.md"})
	assertKind(t, err, errs.KindEmptyDocument)
	if doc == nil {
		t.Fatal("expected a document alongside the empty warning")
	}
}
