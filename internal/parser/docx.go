package parser

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// DOCXParser handles .docx files.
type DOCXParser struct{}

func (p *DOCXParser) Name() string             { return "docx" }
func (p *DOCXParser) Formats() []detect.Format { return []detect.Format{detect.FormatDOCX} }

// emuPerPixel converts drawing extents (EMU) to 96 DPI pixels.
const emuPerPixel = 9525

func (p *DOCXParser) Parse(ctx context.Context, data []byte, opts Options) (doc *doctree.Document, err error) {
	if detect.IsOLE(data) {
		return nil, denied("parse docx", errors.New("document is encrypted"))
	}
	defer guard("parse docx", &err)

	f, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt("parse docx", err)
	}

	doc = newDocument(opts, detect.FormatDOCX)
	b := &docxBuilder{doc: doc, file: f, stack: newSectionStack(doc), lists: listNester{doc: doc}, lastFloat: -1}
	for _, item := range f.Document.Body.Items {
		if err := cancelled(ctx, "parse docx"); err != nil {
			return nil, err
		}
		switch it := item.(type) {
		case *docx.Paragraph:
			b.paragraph(it)
		case *docx.Table:
			b.lists.end()
			b.lastFloat = b.table(it, b.stack.parent())
		}
	}
	if !doc.HasContent() {
		return doc, empty("parse docx")
	}
	return doc, nil
}

type docxBuilder struct {
	doc   *doctree.Document
	file  *docx.Docx
	stack *sectionStack
	lists listNester
	// lastFloat is the most recent table or figure, the target for a
	// following caption paragraph.
	lastFloat doctree.NodeID
}

func (b *docxBuilder) paragraph(para *docx.Paragraph) {
	style := docxStyle(para)
	runs, drawings := b.runs(para)
	runs = mergeRuns(runs)
	text := collapseSpace(runsText(runs))

	if ilvl, ok := docxListLevel(para, style); ok && text != "" {
		b.lists.add(b.stack.parent(), ilvl, strings.Contains(style, "number"), runs)
		return
	}
	b.lists.end()

	for _, d := range drawings {
		b.lastFloat = b.doc.AddFigure(b.stack.parent(), drawingRef(d))
	}
	if text == "" {
		return
	}

	switch {
	case style == "title":
		b.doc.Add(b.stack.parent(), doctree.Node{Label: doctree.LabelTitle, Level: 1, Runs: runs})
	case docxHeadingLevel(style) > 0:
		b.stack.heading(text, docxHeadingLevel(style))
	case style == "caption" && b.lastFloat >= 0:
		b.doc.AddCaption(b.lastFloat, text)
		b.lastFloat = -1
		return
	case strings.Contains(style, "code") || style == "htmlpreformatted" || style == "macrotext":
		b.doc.AddText(b.stack.parent(), doctree.LabelCode, runsText(runs))
	default:
		b.doc.AddRuns(b.stack.parent(), doctree.LabelParagraph, runs)
	}
	b.lastFloat = -1
}

func (b *docxBuilder) runs(para *docx.Paragraph) ([]doctree.TextRun, []*docx.Drawing) {
	var (
		runs     []doctree.TextRun
		drawings []*docx.Drawing
	)
	add := func(r *docx.Run, href string) {
		style := doctree.TextRun{Href: href}
		if p := r.RunProperties; p != nil {
			style.Bold = p.Bold != nil
			style.Italic = p.Italic != nil
		}
		before := len(runs)
		for _, c := range r.Children {
			s := style
			switch rc := c.(type) {
			case *docx.Text:
				s.Text = rc.Text
			case *docx.Tab:
				s.Text = "\t"
			case *docx.BarterRabbet:
				s.Text = "\n"
			case *docx.Drawing:
				drawings = append(drawings, rc)
				continue
			default:
				continue
			}
			runs = append(runs, s)
		}
		// Links written by go-docx carry their text in instrText.
		if href != "" && len(runs) == before && r.InstrText != "" {
			style.Text = r.InstrText
			runs = append(runs, style)
		}
	}
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			add(c, "")
		case *docx.Hyperlink:
			href, err := b.file.ReferTarget(c.ID)
			if err != nil {
				href = ""
			}
			add(&c.Run, href)
		}
	}
	return runs, drawings
}

func (b *docxBuilder) table(t *docx.Table, parent doctree.NodeID) doctree.NodeID {
	td := &doctree.TableData{NumRows: len(t.TableRows)}
	// open maps a grid column to the cell whose vertical merge may continue.
	open := make(map[int]int)
	for r, row := range t.TableRows {
		col := 0
		for _, c := range row.TableCells {
			span := 1
			var vm *docx.WvMerge
			if p := c.TableCellProperties; p != nil {
				if p.GridSpan != nil && p.GridSpan.Val > 1 {
					span = p.GridSpan.Val
				}
				vm = p.VMerge
			}
			if vm != nil && vm.Val != "restart" {
				if i, ok := open[col]; ok && td.Cells[i].Row+td.Cells[i].RowSpan == r && td.Cells[i].ColSpan == span {
					td.Cells[i].RowSpan++
					col += span
					continue
				}
			}
			td.Cells = append(td.Cells, doctree.TableCell{
				Text:         b.cellText(c),
				Row:          r,
				Col:          col,
				RowSpan:      1,
				ColSpan:      span,
				ColumnHeader: r == 0,
			})
			if vm != nil {
				open[col] = len(td.Cells) - 1
			} else {
				delete(open, col)
			}
			col += span
		}
		td.NumCols = max(td.NumCols, col)
	}
	if t.TableGrid != nil {
		td.NumCols = max(td.NumCols, len(t.TableGrid.GridCols))
	}
	return b.doc.AddTable(parent, td)
}

func (b *docxBuilder) cellText(c *docx.WTableCell) string {
	var parts []string
	for _, p := range c.Paragraphs {
		runs, _ := b.runs(p)
		if t := collapseSpace(runsText(runs)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func drawingRef(d *docx.Drawing) *doctree.ImageRef {
	ref := &doctree.ImageRef{}
	switch {
	case d.Inline != nil && d.Inline.Extent != nil:
		ref.Width = int(d.Inline.Extent.CX / emuPerPixel)
		ref.Height = int(d.Inline.Extent.CY / emuPerPixel)
	case d.Anchor != nil && d.Anchor.Extent != nil:
		ref.Width = int(d.Anchor.Extent.CX / emuPerPixel)
		ref.Height = int(d.Anchor.Extent.CY / emuPerPixel)
	}
	return ref
}

// docxStyle returns the paragraph style id lower-cased with spaces removed,
// so "Heading 1" and "Heading1" compare equal.
func docxStyle(para *docx.Paragraph) string {
	if para.Properties == nil || para.Properties.Style == nil {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
}

func docxHeadingLevel(style string) int {
	rest, ok := strings.CutPrefix(style, "heading")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0
	}
	return min(n, 6)
}

// docxListLevel reports whether a paragraph is a list item and its 0-based
// nesting level.
func docxListLevel(para *docx.Paragraph, style string) (int, bool) {
	props := para.Properties
	if props != nil && props.NumProperties != nil && props.NumProperties.NumID != nil &&
		props.NumProperties.NumID.Val != "0" {
		lvl := 0
		if props.NumProperties.Ilvl != nil {
			lvl, _ = strconv.Atoi(props.NumProperties.Ilvl.Val)
		}
		return lvl, true
	}
	if strings.HasPrefix(style, "list") {
		// "ListBullet2" nests one level below "ListBullet".
		lvl := 0
		if n, err := strconv.Atoi(style[len(style)-1:]); err == nil && n > 1 {
			lvl = n - 1
		}
		return lvl, true
	}
	return 0, false
}
