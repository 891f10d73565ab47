package vlm

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/parser"
)

// locGrid is the resolution of DocTags <loc_N> coordinates.
const locGrid = 500

var (
	dtTagRe     = regexp.MustCompile(`<(/?)([A-Za-z_][A-Za-z0-9_]*)>`)
	dtHeadingRe = regexp.MustCompile(`^section_header_level_(\d)$`)
)

type dtToken struct {
	tag   string // empty for text
	close bool
	text  string
}

func tokenizeDocTags(s string) []dtToken {
	var out []dtToken
	last := 0
	for _, m := range dtTagRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			out = append(out, dtToken{text: s[last:m[0]]})
		}
		out = append(out, dtToken{tag: s[m[4]:m[5]], close: m[3] > m[2]})
		last = m[1]
	}
	if last < len(s) {
		out = append(out, dtToken{text: s[last:]})
	}
	return out
}

// dtElement is the flattened content of one DocTags element.
type dtElement struct {
	locs     []int
	text     string
	language string
	caption  *dtElement
}

func (e *dtElement) bbox(page *doctree.Page) *doctree.BoundingBox {
	if len(e.locs) < 4 || page == nil {
		return nil
	}
	sx, sy := page.Width/locGrid, page.Height/locGrid
	return &doctree.BoundingBox{
		L: float64(e.locs[0]) * sx,
		T: float64(e.locs[1]) * sy,
		R: float64(e.locs[2]) * sx,
		B: float64(e.locs[3]) * sy,
	}
}

func locValue(tag string) (int, bool) {
	v, ok := strings.CutPrefix(tag, "loc_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

type docTagsBuilder struct {
	doc      *doctree.Document
	page     *doctree.Page
	sections *parser.Sections
	toks     []dtToken
	pos      int
	lists    []doctree.NodeID
}

// AppendDocTags converts a DocTags page and appends its nodes to doc.
// Coordinates are scaled to page when it is known.
func AppendDocTags(doc *doctree.Document, s string, page *doctree.Page) {
	b := &docTagsBuilder{doc: doc, page: page, sections: parser.NewSections(doc), toks: tokenizeDocTags(s)}
	for b.pos < len(b.toks) {
		b.next()
	}
}

func (b *docTagsBuilder) prov(e *dtElement) []doctree.ProvenanceItem {
	if b.page == nil {
		return nil
	}
	return []doctree.ProvenanceItem{{Page: b.page.Number, BBox: e.bbox(b.page), Source: "vlm"}}
}

func (b *docTagsBuilder) parent() doctree.NodeID {
	if n := len(b.lists); n > 0 {
		return b.lists[n-1]
	}
	return b.sections.Parent()
}

func (b *docTagsBuilder) next() {
	t := b.toks[b.pos]
	b.pos++
	if t.tag == "" {
		// Stray text outside any element.
		if text := strings.TrimSpace(t.text); text != "" && len(b.lists) == 0 {
			b.doc.AddText(b.parent(), doctree.LabelParagraph, text, b.prov(&dtElement{})...)
		}
		return
	}
	if t.close {
		switch t.tag {
		case "unordered_list", "ordered_list":
			if n := len(b.lists); n > 0 {
				b.lists = b.lists[:n-1]
			}
		}
		return
	}

	switch tag := t.tag; {
	case tag == "title":
		e := b.element(tag)
		b.doc.Add(doctree.RootID, doctree.Node{Label: doctree.LabelTitle, Level: 1, Runs: []doctree.TextRun{{Text: e.text}}, Prov: b.prov(e)})
	case dtHeadingRe.MatchString(tag):
		level, _ := strconv.Atoi(dtHeadingRe.FindStringSubmatch(tag)[1])
		e := b.element(tag)
		b.lists = nil
		b.sections.Heading(e.text, max(level, 1), b.prov(e)...)
	case tag == "text" || tag == "paragraph" || tag == "footnote" || tag == "caption":
		e := b.element(tag)
		if e.text != "" {
			b.doc.AddText(b.sections.Parent(), doctree.LabelParagraph, e.text, b.prov(e)...)
		}
	case tag == "page_header" || tag == "page_footer":
		e := b.element(tag)
		b.doc.AddText(doctree.RootID, doctree.Label(tag), e.text, b.prov(e)...)
	case tag == "formula":
		e := b.element(tag)
		b.doc.AddText(b.sections.Parent(), doctree.LabelFormula, e.text, b.prov(e)...)
	case tag == "code":
		e := b.element(tag)
		id := b.doc.AddText(b.sections.Parent(), doctree.LabelCode, e.text, b.prov(e)...)
		b.doc.Node(id).Language = e.language
	case tag == "unordered_list" || tag == "ordered_list":
		parent := b.sections.Parent()
		if n := len(b.lists); n > 0 {
			if items := b.doc.Node(b.lists[n-1]).Children; len(items) > 0 {
				parent = items[len(items)-1]
			}
		}
		b.lists = append(b.lists, b.doc.AddList(parent, tag == "ordered_list"))
	case tag == "list_item":
		e := b.element(tag)
		if len(b.lists) == 0 {
			b.lists = append(b.lists, b.doc.AddList(b.sections.Parent(), false))
		}
		list := b.lists[len(b.lists)-1]
		marker := "-"
		if b.doc.Node(list).Enumerated {
			marker = strconv.Itoa(len(b.doc.Node(list).Children)+1) + "."
		}
		b.doc.Add(list, doctree.Node{Label: doctree.LabelListItem, Marker: marker, Runs: []doctree.TextRun{{Text: e.text}}, Prov: b.prov(e)})
	case tag == "otsl":
		b.table()
	case tag == "picture" || tag == "chart":
		e := b.element(tag)
		id := b.doc.AddFigure(b.sections.Parent(), &doctree.ImageRef{}, b.prov(e)...)
		if e.caption != nil && e.caption.text != "" {
			b.doc.AddCaption(id, e.caption.text, b.prov(e.caption)...)
		}
	default:
		// Unknown or structural tags (doctag, page_break) carry no content.
	}
}

// element reads up to the closing tag, collecting locations, text, a code
// language tag and a nested caption.
func (b *docTagsBuilder) element(tag string) *dtElement {
	e := &dtElement{}
	var text strings.Builder
	for b.pos < len(b.toks) {
		t := b.toks[b.pos]
		b.pos++
		switch {
		case t.tag == "":
			text.WriteString(t.text)
		case t.close && t.tag == tag:
			e.text = collapse(text.String())
			return e
		case t.close:
		case t.tag == "caption":
			e.caption = b.element("caption")
		default:
			if v, ok := locValue(t.tag); ok {
				e.locs = append(e.locs, v)
			} else if tag == "code" && strings.HasPrefix(t.tag, "_") && strings.HasSuffix(t.tag, "_") {
				e.language = strings.ToLower(strings.Trim(t.tag, "_"))
			}
		}
	}
	e.text = collapse(text.String())
	return e
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type otslCell struct {
	kind string
	text strings.Builder
}

// table reads an OTSL table: one token per grid position, "nl" ending a
// row, lcel/ucel/xcel continuing the cell to the left, above, or both.
func (b *docTagsBuilder) table() {
	e := &dtElement{}
	var (
		rows [][]*otslCell
		row  []*otslCell
		cur  *otslCell
	)
	for b.pos < len(b.toks) {
		t := b.toks[b.pos]
		b.pos++
		if t.tag == "" {
			if cur != nil {
				cur.text.WriteString(t.text)
			}
			continue
		}
		if t.close {
			if t.tag == "otsl" {
				break
			}
			continue
		}
		if v, ok := locValue(t.tag); ok {
			e.locs = append(e.locs, v)
			continue
		}
		switch t.tag {
		case "nl":
			rows = append(rows, row)
			row, cur = nil, nil
		case "caption":
			e.caption = b.element("caption")
		case "fcel", "ecel", "lcel", "ucel", "xcel", "ched", "rhed", "srow":
			cur = &otslCell{kind: t.tag}
			row = append(row, cur)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	id := b.doc.AddTable(b.sections.Parent(), otslTable(rows), b.prov(e)...)
	if e.caption != nil && e.caption.text != "" {
		b.doc.AddCaption(id, e.caption.text, b.prov(e.caption)...)
	}
}

func otslTable(rows [][]*otslCell) *doctree.TableData {
	t := &doctree.TableData{NumRows: len(rows)}
	for _, r := range rows {
		t.NumCols = max(t.NumCols, len(r))
	}
	owner := make([][]int, len(rows))
	for r := range owner {
		owner[r] = make([]int, t.NumCols)
		for c := range owner[r] {
			owner[r][c] = -1
		}
	}
	for r, line := range rows {
		for c, oc := range line {
			o := -1
			switch oc.kind {
			case "lcel":
				if c > 0 {
					o = owner[r][c-1]
				}
			case "ucel", "xcel":
				if r > 0 {
					o = owner[r-1][c]
				}
			}
			if o >= 0 {
				cell := &t.Cells[o]
				cell.ColSpan = max(cell.ColSpan, c-cell.Col+1)
				cell.RowSpan = max(cell.RowSpan, r-cell.Row+1)
				owner[r][c] = o
				continue
			}
			t.Cells = append(t.Cells, doctree.TableCell{
				Text:         collapse(oc.text.String()),
				Row:          r,
				Col:          c,
				RowSpan:      1,
				ColSpan:      1,
				ColumnHeader: oc.kind == "ched",
				RowHeader:    oc.kind == "rhed",
			})
			owner[r][c] = len(t.Cells) - 1
		}
	}
	if t.Validate() != nil {
		// Inconsistent spans; keep the text as a plain grid.
		plain := make([][]string, len(rows))
		for r, line := range rows {
			for _, oc := range line {
				plain[r] = append(plain[r], collapse(oc.text.String()))
			}
		}
		return doctree.NewTable(plain, 0)
	}
	return t
}
