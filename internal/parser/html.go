package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// HTMLParser handles HTML files.
type HTMLParser struct{}

func (p *HTMLParser) Name() string             { return "html" }
func (p *HTMLParser) Formats() []detect.Format { return []detect.Format{detect.FormatHTML} }

func (p *HTMLParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	s, err := decodeText(data)
	if err != nil {
		return nil, corrupt("parse html", err)
	}
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, corrupt("parse html", err)
	}

	doc := newDocument(opts, detect.FormatHTML)
	AppendHTML(doc, root, nil)
	if title := findTitle(root); title != "" {
		doc.Insert(doctree.RootID, 0, doctree.Node{
			Label: doctree.LabelTitle,
			Level: 1,
			Runs:  []doctree.TextRun{{Text: title}},
		})
	}
	if err := cancelled(ctx, "parse html"); err != nil {
		return nil, err
	}
	if !doc.HasContent() {
		return doc, empty("parse html")
	}
	return doc, nil
}

// AppendHTML converts the body of a parsed HTML tree (or the tree itself
// when it has no body) and appends the nodes to doc.
func AppendHTML(doc *doctree.Document, root *html.Node, prov []doctree.ProvenanceItem) {
	b := &htmlBuilder{doc: doc, stack: newSectionStack(doc), prov: prov}
	start := findBody(root)
	if start == nil {
		start = root
	}
	b.container(start, b.stack.parent)
}

type htmlBuilder struct {
	doc   *doctree.Document
	stack *sectionStack
	prov  []doctree.ProvenanceItem
}

func (b *htmlBuilder) provenance() []doctree.ProvenanceItem {
	if len(b.prov) == 0 {
		return nil
	}
	return append([]doctree.ProvenanceItem(nil), b.prov...)
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Nav: true, atom.Footer: true, atom.Header: true, atom.Head: true,
	atom.Iframe: true, atom.Button: true, atom.Svg: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Aside: true, atom.Blockquote: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Figure: true, atom.Pre: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Hr: true, atom.Dl: true, atom.Dt: true,
	atom.Dd: true, atom.Li: true, atom.Img: true, atom.Address: true, atom.Details: true,
	atom.Summary: true, atom.Form: true, atom.Fieldset: true, atom.Center: true,
}

// container walks block-level children, gathering loose inline content into
// paragraphs.
func (b *htmlBuilder) container(n *html.Node, parent func() doctree.NodeID) {
	var pending []doctree.TextRun
	flush := func() {
		if runs := mergeRuns(pending); len(runs) > 0 {
			b.doc.AddRuns(parent(), doctree.LabelParagraph, runs, b.provenance()...)
		}
		pending = nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && skipped[c.DataAtom] {
			continue
		}
		if c.Type == html.ElementNode && blocks[c.DataAtom] {
			flush()
			b.block(c, parent)
			continue
		}
		pending = append(pending, b.inline(c, doctree.TextRun{})...)
	}
	flush()
}

func (b *htmlBuilder) block(n *html.Node, parent func() doctree.NodeID) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		if text := collapseSpace(textContent(n)); text != "" {
			b.stack.heading(text, level, b.provenance()...)
		}
	case atom.P:
		if img := soleImg(n); img != nil {
			b.figure(img, nil, parent())
			return
		}
		if runs := mergeRuns(b.inlineChildren(n, doctree.TextRun{})); len(runs) > 0 {
			b.doc.AddRuns(parent(), doctree.LabelParagraph, runs, b.provenance()...)
		}
	case atom.Ul, atom.Ol:
		b.list(n, parent())
	case atom.Table:
		b.table(n, parent())
	case atom.Figure:
		b.figureElement(n, parent())
	case atom.Img:
		b.figure(n, nil, parent())
	case atom.Pre:
		id := b.doc.AddText(parent(), doctree.LabelCode, strings.Trim(textContent(n), "\n"), b.provenance()...)
		b.doc.Node(id).Language = codeLanguage(n)
	case atom.Hr:
	default:
		b.container(n, parent)
	}
}

func (b *htmlBuilder) list(n *html.Node, parent doctree.NodeID) {
	ordered := n.DataAtom == atom.Ol
	listID := b.doc.AddList(parent, ordered)
	num := 1
	if s, err := strconv.Atoi(attr(n, "start")); err == nil {
		num = s
	}
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		marker := "-"
		if ordered {
			marker = strconv.Itoa(num) + "."
			num++
		}
		var runs []doctree.TextRun
		var nested []*html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) {
				nested = append(nested, c)
				continue
			}
			if c.Type == html.ElementNode && c.DataAtom == atom.P && len(runs) > 0 {
				runs = append(runs, doctree.TextRun{Text: "\n"})
			}
			runs = append(runs, b.inline(c, doctree.TextRun{})...)
		}
		itemID := b.doc.Add(listID, doctree.Node{
			Label:  doctree.LabelListItem,
			Marker: marker,
			Runs:   mergeRuns(runs),
			Prov:   b.provenance(),
		})
		for _, c := range nested {
			b.list(c, itemID)
		}
	}
}

func (b *htmlBuilder) table(n *html.Node, parent doctree.NodeID) {
	var (
		rows    [][]*html.Node
		inHead  []bool
		caption string
	)
	var collect func(*html.Node, bool)
	collect = func(n *html.Node, head bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Caption:
				caption = collapseSpace(textContent(c))
			case atom.Thead:
				collect(c, true)
			case atom.Tbody, atom.Tfoot:
				collect(c, false)
			case atom.Tr:
				var cells []*html.Node
				for td := c.FirstChild; td != nil; td = td.NextSibling {
					if td.Type == html.ElementNode && (td.DataAtom == atom.Td || td.DataAtom == atom.Th) {
						cells = append(cells, td)
					}
				}
				rows = append(rows, cells)
				inHead = append(inHead, head)
			}
		}
	}
	collect(n, false)
	if len(rows) == 0 {
		return
	}

	t := &doctree.TableData{NumRows: len(rows)}
	occupied := make(map[[2]int]bool)
	for r, cells := range rows {
		allTH := true
		for _, c := range cells {
			if c.DataAtom != atom.Th {
				allTH = false
			}
		}
		col := 0
		for _, c := range cells {
			for occupied[[2]int{r, col}] {
				col++
			}
			rs := spanAttr(c, "rowspan")
			cs := clipSpan(spanAttr(c, "colspan"), func(j int) bool { return occupied[[2]int{r, col + j}] })
			rs = min(rs, len(rows)-r)
			for i := r; i < r+rs; i++ {
				for j := col; j < col+cs; j++ {
					occupied[[2]int{i, j}] = true
				}
			}
			isTH := c.DataAtom == atom.Th
			t.Cells = append(t.Cells, doctree.TableCell{
				Text:         collapseSpace(textContent(c)),
				Row:          r,
				Col:          col,
				RowSpan:      rs,
				ColSpan:      cs,
				ColumnHeader: isTH && (inHead[r] || allTH),
				RowHeader:    isTH && !inHead[r] && !allTH,
			})
			col += cs
			t.NumCols = max(t.NumCols, col)
		}
	}
	for k := range occupied {
		t.NumCols = max(t.NumCols, k[1]+1)
	}
	id := b.doc.AddTable(parent, t, b.provenance()...)
	if caption != "" {
		b.doc.AddCaption(id, caption, b.provenance()...)
	}
}

func (b *htmlBuilder) figureElement(n *html.Node, parent doctree.NodeID) {
	var img, caption *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Img:
				if img == nil {
					img = c
				}
			case atom.Figcaption:
				caption = c
			case atom.Table:
				// A figure wrapping a table is a captioned table.
				b.table(c, parent)
				return
			default:
				find(c)
			}
		}
	}
	find(n)
	if img != nil || caption != nil {
		b.figure(img, caption, parent)
	}
}

func (b *htmlBuilder) figure(img, caption *html.Node, parent doctree.NodeID) {
	var ref *doctree.ImageRef
	alt := ""
	if img != nil {
		ref = &doctree.ImageRef{URI: attr(img, "src")}
		ref.Width, _ = strconv.Atoi(attr(img, "width"))
		ref.Height, _ = strconv.Atoi(attr(img, "height"))
		alt = collapseSpace(attr(img, "alt"))
	}
	id := b.doc.AddFigure(parent, ref, b.provenance()...)
	text := alt
	if caption != nil {
		text = collapseSpace(textContent(caption))
	}
	if text != "" {
		b.doc.AddCaption(id, text, b.provenance()...)
	}
}

var wsRun = regexp.MustCompile(`\s+`)

// inline returns the runs for an inline node and its descendants.
func (b *htmlBuilder) inline(n *html.Node, style doctree.TextRun) []doctree.TextRun {
	switch n.Type {
	case html.TextNode:
		r := style
		r.Text = wsRun.ReplaceAllString(n.Data, " ")
		return []doctree.TextRun{r}
	case html.ElementNode:
	default:
		return nil
	}
	if skipped[n.DataAtom] {
		return nil
	}
	switch n.DataAtom {
	case atom.Br:
		r := style
		r.Text = "\n"
		return []doctree.TextRun{r}
	case atom.B, atom.Strong:
		style.Bold = true
	case atom.I, atom.Em:
		style.Italic = true
	case atom.Code, atom.Kbd, atom.Samp, atom.Tt:
		style.Code = true
	case atom.A:
		style.Href = attr(n, "href")
	case atom.Img:
		return nil
	}
	runs := b.inlineChildren(n, style)
	if blocks[n.DataAtom] && len(runs) > 0 {
		runs = append(runs, doctree.TextRun{Text: " "})
	}
	return runs
}

func (b *htmlBuilder) inlineChildren(n *html.Node, style doctree.TextRun) []doctree.TextRun {
	var runs []doctree.TextRun
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		runs = append(runs, b.inline(c, style)...)
	}
	return runs
}

func soleImg(n *html.Node) *html.Node {
	var img *html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) == "":
		case c.Type == html.ElementNode && c.DataAtom == atom.Img && img == nil:
			img = c
		default:
			return nil
		}
	}
	return img
}

func codeLanguage(n *html.Node) string {
	classes := attr(n, "class")
	if c := n.FirstChild; c != nil && c.DataAtom == atom.Code {
		classes += " " + attr(c, "class")
	}
	for _, cls := range strings.Fields(classes) {
		if lang, ok := strings.CutPrefix(cls, "language-"); ok {
			return lang
		}
		if lang, ok := strings.CutPrefix(cls, "lang-"); ok {
			return lang
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func spanAttr(n *html.Node, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(attr(n, key)))
	if err != nil || v < 1 {
		return 1
	}
	return min(v, 1000)
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			buf.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var buf strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				buf.WriteString(c.Data)
			}
		}
		return collapseSpace(buf.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// clipSpan shortens a column span at the first position taken reports as
// occupied. Rowspans from earlier rows that reach further down also cover
// the current row, so checking the cell's own row is enough.
func clipSpan(span int, taken func(offset int) bool) int {
	for j := 1; j < span; j++ {
		if taken(j) {
			return j
		}
	}
	return span
}
