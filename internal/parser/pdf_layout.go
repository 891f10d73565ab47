package parser

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/dgallion1/docweave/internal/doctree"
)

// Layout thresholds, in multiples of the font size unless noted.
const (
	headingRatio  = 1.15 // font size over body size that marks a heading
	cellGapRatio  = 2.0  // horizontal gap that starts a new segment
	wordGapRatio  = 0.15 // horizontal gap that inserts a space
	lineGapRatio  = 0.9  // vertical gap that still continues a paragraph
	furnitureBand = 0.07 // page fraction at top and bottom holding headers/footers
	maxHeadingLen = 200  // characters
)

type pdfPage struct {
	number        int
	width, height float64
	lines         []pdfLine
	images        []*doctree.ImageRef
}

// pdfSegment is a horizontally contiguous piece of a line. Lines with
// several segments are table or multi-column candidates.
type pdfSegment struct {
	text string
	bbox doctree.BoundingBox
	size float64
	bold bool
}

type pdfLine struct {
	segs []pdfSegment
	bbox doctree.BoundingBox
	size float64
}

func (l pdfLine) text() string {
	parts := make([]string, len(l.segs))
	for i, s := range l.segs {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

func (p *pdfPage) cells() []doctree.TextCell {
	var out []doctree.TextCell
	for _, l := range p.lines {
		for _, s := range l.segs {
			out = append(out, doctree.TextCell{Text: s.text, BBox: s.bbox, Confidence: 1})
		}
	}
	return out
}

// groupLines turns positioned glyphs (bottom-up coordinates) into lines in
// reading order with top-left boxes.
func groupLines(glyphs []pdflib.Text, pageHeight float64) []pdfLine {
	gs := make([]pdflib.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			gs = append(gs, g)
		}
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Y > gs[j].Y })

	var groups [][]pdflib.Text
	for _, g := range gs {
		tol := max(g.FontSize*0.5, 1.5)
		if n := len(groups); n > 0 && math.Abs(groups[n-1][0].Y-g.Y) <= tol {
			groups[n-1] = append(groups[n-1], g)
			continue
		}
		groups = append(groups, []pdflib.Text{g})
	}

	var lines []pdfLine
	for _, grp := range groups {
		sort.SliceStable(grp, func(i, j int) bool { return grp[i].X < grp[j].X })
		if l, ok := buildLine(grp, pageHeight); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

func buildLine(grp []pdflib.Text, pageHeight float64) (pdfLine, bool) {
	var (
		line    pdfLine
		seg     pdfSegment
		buf     strings.Builder
		open    bool
		space   bool
		lastEnd float64
	)
	flush := func() {
		if t := collapseSpace(buf.String()); t != "" {
			seg.text = t
			line.segs = append(line.segs, seg)
		}
		buf.Reset()
		open, space = false, false
	}
	for _, g := range grp {
		size := g.FontSize
		if size <= 0 {
			size = 10
		}
		if strings.TrimSpace(g.S) == "" {
			space = open
			continue
		}
		w := g.W
		if w <= 0 {
			w = size * 0.5 * float64(utf8.RuneCountInString(g.S))
		}
		box := doctree.BoundingBox{L: g.X, T: pageHeight - g.Y - size, R: g.X + w, B: pageHeight - g.Y}
		if open {
			gap := g.X - lastEnd
			switch {
			case gap > max(size*cellGapRatio, 12):
				flush()
			case (gap > size*wordGapRatio || space) && buf.Len() > 0:
				buf.WriteByte(' ')
			}
			space = false
		}
		if !open {
			seg = pdfSegment{bbox: box, size: size, bold: isBoldFont(g.Font)}
			open = true
		} else {
			seg.bbox = seg.bbox.Union(box)
			seg.size = max(seg.size, size)
		}
		buf.WriteString(g.S)
		lastEnd = g.X + w
	}
	flush()
	if len(line.segs) == 0 {
		return line, false
	}
	line.bbox = line.segs[0].bbox
	for _, s := range line.segs {
		line.bbox = line.bbox.Union(s.bbox)
		line.size = max(line.size, s.size)
	}
	return line, true
}

func isBoldFont(font string) bool {
	f := strings.ToLower(font)
	return strings.Contains(f, "bold") || strings.Contains(f, "black") || strings.Contains(f, "heavy")
}

// pdfLayout holds document-wide font statistics used to classify lines.
type pdfLayout struct {
	bodySize float64
	// levels are the heading font sizes, largest first.
	levels []float64
}

func roundSize(s float64) float64 { return math.Round(s*2) / 2 }

func newPDFLayout(pages []*pdfPage) *pdfLayout {
	chars := make(map[float64]int)
	for _, p := range pages {
		for _, l := range p.lines {
			for _, s := range l.segs {
				chars[roundSize(s.size)] += utf8.RuneCountInString(s.text)
			}
		}
	}
	l := &pdfLayout{}
	best := -1
	for size, n := range chars {
		if n > best || (n == best && size < l.bodySize) {
			l.bodySize, best = size, n
		}
	}
	for size := range chars {
		if size >= l.bodySize*headingRatio {
			l.levels = append(l.levels, size)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(l.levels)))
	return l
}

func (l *pdfLayout) headingLevel(size float64) int {
	rs := roundSize(size)
	if l.bodySize == 0 || rs < l.bodySize*headingRatio {
		return 0
	}
	for i, s := range l.levels {
		if rs >= s {
			return min(i+1, 6)
		}
	}
	return min(len(l.levels), 6)
}

var listMarkerRe = regexp.MustCompile(`^([•●▪◦·\-–*]|\(?\d{1,3}[.)]|\(?[a-z][.)])\s+`)

// listMarker splits a leading bullet or enumeration from text.
func listMarker(text string) (marker, rest string, ok bool) {
	m := listMarkerRe.FindStringSubmatch(text)
	if m == nil {
		return "", text, false
	}
	return m[1], text[len(m[0]):], true
}

func enumeratedMarker(marker string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimPrefix(marker, "("))
	return unicode.IsDigit(r) || unicode.IsLetter(r)
}

// emit appends the nodes for one page.
func (l *pdfLayout) emit(doc *doctree.Document, stack *sectionStack, pp *pdfPage) {
	prov := func(b doctree.BoundingBox) doctree.ProvenanceItem {
		return doctree.ProvenanceItem{Page: pp.number, BBox: &b, Confidence: 1, Source: "text_layer"}
	}
	lines := pp.lines
	list := doctree.NodeID(-1)

	for i := 0; i < len(lines); {
		ln := lines[i]
		text := ln.text()

		if label, ok := l.furniture(pp, ln, i); ok {
			doc.AddText(doctree.RootID, label, text, prov(ln.bbox))
			i++
			continue
		}

		if end := tableRun(lines, i); end-i >= 2 {
			rows := make([][]string, 0, end-i)
			box := lines[i].bbox
			for _, tl := range lines[i:end] {
				row := make([]string, len(tl.segs))
				for k, s := range tl.segs {
					row[k] = s.text
				}
				rows = append(rows, row)
				box = box.Union(tl.bbox)
			}
			doc.AddTable(stack.parent(), doctree.NewTable(rows, 1), prov(box))
			list = -1
			i = end
			continue
		}

		if level := l.headingLevel(ln.size); level > 0 && len(text) <= maxHeadingLen {
			j, box := i+1, ln.bbox
			for j < len(lines) && l.headingLevel(lines[j].size) == level && l.continues(lines[j-1], lines[j]) {
				text += " " + lines[j].text()
				box = box.Union(lines[j].bbox)
				j++
			}
			stack.heading(text, level, prov(box))
			list = -1
			i = j
			continue
		}

		if marker, _, ok := listMarker(text); ok {
			if list < 0 {
				list = doc.AddList(stack.parent(), enumeratedMarker(marker))
			}
			j := i + 1
			for j < len(lines) && l.continues(lines[j-1], lines[j]) && lines[j].bbox.L > ln.bbox.L+2 {
				j++
			}
			runs := joinLineRuns(lines[i:j])
			if len(runs) > 0 {
				_, runs[0].Text, _ = listMarker(runs[0].Text)
			}
			doc.Add(list, doctree.Node{
				Label:  doctree.LabelListItem,
				Marker: marker,
				Runs:   mergeRuns(runs),
				Prov:   []doctree.ProvenanceItem{prov(unionLines(lines[i:j]))},
			})
			i = j
			continue
		}
		list = -1

		j := i + 1
		for j < len(lines) && l.continues(lines[j-1], lines[j]) {
			j++
		}
		doc.AddRuns(stack.parent(), doctree.LabelParagraph, mergeRuns(joinLineRuns(lines[i:j])), prov(unionLines(lines[i:j])))
		i = j
	}

	for _, img := range pp.images {
		doc.AddFigure(stack.parent(), img, doctree.ProvenanceItem{Page: pp.number, Source: "text_layer"})
	}
}

// furniture classifies the first and last line of a page when they sit in
// the top or bottom margin band.
func (l *pdfLayout) furniture(pp *pdfPage, ln pdfLine, i int) (doctree.Label, bool) {
	if len(pp.lines) < 2 || len(ln.text()) > 120 {
		return "", false
	}
	switch {
	case i == 0 && ln.bbox.B < pp.height*furnitureBand:
		return doctree.LabelPageHeader, true
	case i == len(pp.lines)-1 && ln.bbox.T > pp.height*(1-furnitureBand):
		return doctree.LabelPageFooter, true
	}
	return "", false
}

// continues reports whether next is another line of the block ending at
// prev.
func (l *pdfLayout) continues(prev, next pdfLine) bool {
	if math.Abs(prev.size-next.size) > 1 {
		return false
	}
	if next.bbox.T-prev.bbox.B > prev.size*lineGapRatio {
		return false
	}
	if len(prev.segs) > 1 || len(next.segs) > 1 {
		return false
	}
	if l.headingLevel(next.size) != l.headingLevel(prev.size) {
		return false
	}
	_, _, isItem := listMarker(next.text())
	return !isItem
}

func tableRun(lines []pdfLine, i int) int {
	j := i
	for j < len(lines) && len(lines[j].segs) >= 2 {
		j++
	}
	return j
}

func unionLines(lines []pdfLine) doctree.BoundingBox {
	box := lines[0].bbox
	for _, l := range lines[1:] {
		box = box.Union(l.bbox)
	}
	return box
}

// joinLineRuns concatenates lines into runs, removing end-of-line hyphens
// before a lower-case continuation.
func joinLineRuns(lines []pdfLine) []doctree.TextRun {
	var runs []doctree.TextRun
	for _, ln := range lines {
		for k, s := range ln.segs {
			if n := len(runs); n > 0 {
				prev := &runs[n-1]
				first, _ := utf8.DecodeRuneInString(s.text)
				if k == 0 && strings.HasSuffix(prev.Text, "-") && unicode.IsLower(first) {
					prev.Text = strings.TrimSuffix(prev.Text, "-")
				} else {
					prev.Text += " "
				}
			}
			runs = append(runs, doctree.TextRun{Text: s.text, Bold: s.bold})
		}
	}
	return runs
}
