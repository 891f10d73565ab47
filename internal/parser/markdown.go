package parser

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// MarkdownParser handles Markdown files using goldmark with GFM tables.
type MarkdownParser struct{}

func (p *MarkdownParser) Name() string             { return "markdown" }
func (p *MarkdownParser) Formats() []detect.Format { return []detect.Format{detect.FormatMarkdown} }

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

func (p *MarkdownParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	s, err := decodeText(data)
	if err != nil {
		return nil, corrupt("parse markdown", err)
	}
	doc := newDocument(opts, detect.FormatMarkdown)
	AppendMarkdown(doc, []byte(s), nil)
	if err := cancelled(ctx, "parse markdown"); err != nil {
		return nil, err
	}
	if !doc.HasContent() {
		return doc, empty("parse markdown")
	}
	return doc, nil
}

// AppendMarkdown parses src and appends the resulting nodes under the body.
// prov, when set, is attached to every node created.
func AppendMarkdown(doc *doctree.Document, src []byte, prov []doctree.ProvenanceItem) {
	root := markdown.Parser().Parse(text.NewReader(src))
	b := &mdBuilder{doc: doc, src: src, stack: newSectionStack(doc), prov: prov}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		b.block(n, b.stack.parent)
	}
}

type mdBuilder struct {
	doc   *doctree.Document
	src   []byte
	stack *sectionStack
	prov  []doctree.ProvenanceItem
}

func (b *mdBuilder) provenance() []doctree.ProvenanceItem {
	if len(b.prov) == 0 {
		return nil
	}
	return append([]doctree.ProvenanceItem(nil), b.prov...)
}

// block converts one block node. parent is evaluated lazily so that
// top-level content follows the section stack while nested content stays
// in its container.
func (b *mdBuilder) block(n ast.Node, parent func() doctree.NodeID) {
	switch node := n.(type) {
	case *ast.Heading:
		b.stack.heading(collapseSpace(runsText(b.inlines(node))), node.Level, b.provenance()...)

	case *ast.Paragraph, *ast.TextBlock:
		if img := soleImage(node, b.src); img != nil {
			fig := b.doc.AddFigure(parent(), &doctree.ImageRef{URI: string(img.Destination)}, b.provenance()...)
			if alt := collapseSpace(runsText(b.inlines(img))); alt != "" {
				b.doc.AddCaption(fig, alt, b.provenance()...)
			}
			return
		}
		runs := mergeRuns(b.inlines(node))
		if len(runs) == 0 {
			return
		}
		if t := runsText(runs); strings.HasPrefix(t, "$$") && strings.HasSuffix(t, "$$") && len(t) > 4 {
			b.doc.AddText(parent(), doctree.LabelFormula, strings.TrimSpace(t[2:len(t)-2]), b.provenance()...)
			return
		}
		b.doc.AddRuns(parent(), doctree.LabelParagraph, runs, b.provenance()...)

	case *ast.List:
		b.list(node, parent())

	case *ast.FencedCodeBlock:
		id := b.doc.AddText(parent(), doctree.LabelCode, b.lines(node), b.provenance()...)
		b.doc.Node(id).Language = string(node.Language(b.src))

	case *ast.CodeBlock:
		b.doc.AddText(parent(), doctree.LabelCode, b.lines(node), b.provenance()...)

	case *ast.Blockquote:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			b.block(c, parent)
		}

	case *east.Table:
		b.table(node, parent())
	}
}

func (b *mdBuilder) list(l *ast.List, parent doctree.NodeID) {
	listID := b.doc.AddList(parent, l.IsOrdered())
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := string(l.Marker)
		if l.IsOrdered() {
			marker = strconv.Itoa(num) + string(l.Marker)
			num++
		}
		var runs []doctree.TextRun
		var nested []ast.Node
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				if len(runs) > 0 {
					runs = append(runs, doctree.TextRun{Text: "\n"})
				}
				runs = append(runs, b.inlines(c)...)
			default:
				nested = append(nested, c)
			}
		}
		itemID := b.doc.Add(listID, doctree.Node{
			Label:  doctree.LabelListItem,
			Marker: marker,
			Runs:   mergeRuns(runs),
			Prov:   b.provenance(),
		})
		for _, c := range nested {
			b.block(c, func() doctree.NodeID { return itemID })
		}
	}
}

func (b *mdBuilder) table(t *east.Table, parent doctree.NodeID) {
	var rows [][]string
	headers := 0
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var row []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			row = append(row, collapseSpace(runsText(b.inlines(c))))
		}
		if _, ok := r.(*east.TableHeader); ok {
			headers++
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	b.doc.AddTable(parent, doctree.NewTable(rows, headers), b.provenance()...)
}

// inlines flattens inline children into formatted runs.
func (b *mdBuilder) inlines(n ast.Node) []doctree.TextRun {
	var runs []doctree.TextRun
	var walk func(n ast.Node, style doctree.TextRun)
	walk = func(n ast.Node, style doctree.TextRun) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				r := style
				r.Text = string(node.Value(b.src))
				if node.HardLineBreak() {
					r.Text += "\n"
				} else if node.SoftLineBreak() {
					r.Text += " "
				}
				runs = append(runs, r)
			case *ast.String:
				r := style
				r.Text = string(node.Value)
				runs = append(runs, r)
			case *ast.Emphasis:
				s := style
				if node.Level >= 2 {
					s.Bold = true
				} else {
					s.Italic = true
				}
				walk(node, s)
			case *ast.CodeSpan:
				s := style
				s.Code = true
				walk(node, s)
			case *ast.Link:
				s := style
				s.Href = string(node.Destination)
				walk(node, s)
			case *ast.AutoLink:
				r := style
				r.Href = string(node.URL(b.src))
				r.Text = string(node.Label(b.src))
				runs = append(runs, r)
			case *ast.RawHTML, *ast.Image:
			default:
				walk(node, style)
			}
		}
	}
	walk(n, doctree.TextRun{})
	return runs
}

func (b *mdBuilder) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(b.src))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// soleImage returns the image when a paragraph holds nothing else.
func soleImage(n ast.Node, src []byte) *ast.Image {
	var img *ast.Image
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Image:
			if img != nil {
				return nil
			}
			img = node
		case *ast.Text:
			if len(bytes.TrimSpace(node.Value(src))) > 0 {
				return nil
			}
		default:
			return nil
		}
	}
	return img
}
