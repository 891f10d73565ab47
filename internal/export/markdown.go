package export

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
)

// MarkdownOptions tune Markdown output.
type MarkdownOptions struct {
	// IncludeFurniture keeps page headers and footers.
	IncludeFurniture bool
	// ImagePlaceholder replaces figures; defaults to an HTML comment.
	ImagePlaceholder string
}

// Markdown renders doc as GitHub-flavored Markdown. Output is a pure
// function of the document.
func Markdown(doc *doctree.Document, opts MarkdownOptions) (string, error) {
	if err := check(doc, "export markdown"); err != nil {
		return "", err
	}
	if opts.ImagePlaceholder == "" {
		opts.ImagePlaceholder = "<!-- image -->"
	}
	m := &mdWriter{doc: doc, opts: opts}
	for _, id := range doc.Root().Children {
		m.block(doc.Node(id))
	}
	return strings.Join(m.blocks, "\n\n") + "\n", nil
}

type mdWriter struct {
	doc    *doctree.Document
	opts   MarkdownOptions
	blocks []string
}

func (m *mdWriter) block(n *doctree.Node) {
	switch n.Label {
	case doctree.LabelTitle:
		m.add("# " + inline(n.Runs))
	case doctree.LabelHeading:
		m.add(strings.Repeat("#", min(max(n.Level, 1), 6)) + " " + inline(n.Runs))
	case doctree.LabelParagraph, doctree.LabelCaption:
		m.add(inline(n.Runs))
	case doctree.LabelPageHeader, doctree.LabelPageFooter:
		if m.opts.IncludeFurniture {
			m.add(inline(n.Runs))
		}
		return
	case doctree.LabelCode:
		m.add("```" + n.Language + "\n" + n.Text() + "\n```")
	case doctree.LabelFormula:
		m.add("$$\n" + n.Text() + "\n$$")
	case doctree.LabelList:
		var lines []string
		m.list(n, 0, &lines)
		m.add(strings.Join(lines, "\n"))
		return
	case doctree.LabelListItem:
		// A stray item outside a list.
		m.add("- " + inline(n.Runs))
	case doctree.LabelTable:
		m.captions(n)
		if t := table(n.Table); t != "" {
			m.add(t)
		}
		return
	case doctree.LabelFigure:
		m.add(m.opts.ImagePlaceholder)
		m.captions(n)
		return
	}
	for _, id := range n.Children {
		m.block(m.doc.Node(id))
	}
}

func (m *mdWriter) add(s string) {
	if strings.TrimSpace(s) != "" {
		m.blocks = append(m.blocks, s)
	}
}

func (m *mdWriter) captions(n *doctree.Node) {
	for _, id := range n.Captions {
		m.add(inline(m.doc.Node(id).Runs))
	}
}

func (m *mdWriter) list(n *doctree.Node, depth int, lines *[]string) {
	indent := strings.Repeat("    ", depth)
	num := 0
	for _, id := range n.Children {
		item := m.doc.Node(id)
		if item.Label == doctree.LabelList {
			m.list(item, depth+1, lines)
			continue
		}
		num++
		marker := "-"
		if n.Enumerated {
			marker = fmt.Sprintf("%d.", num)
		}
		*lines = append(*lines, indent+marker+" "+inline(item.Runs))
		for _, cid := range item.Children {
			child := m.doc.Node(cid)
			if child.Label == doctree.LabelList {
				m.list(child, depth+1, lines)
			} else if text := child.Text(); text != "" {
				*lines = append(*lines, indent+"    "+text)
			}
		}
	}
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`, `[`, `\[`, `]`, `\]`,
)

// inline renders runs with emphasis, code spans and links. Literal text is
// escaped so it cannot open a heading, list, quote or emphasis.
func inline(runs []doctree.TextRun) string {
	var b strings.Builder
	for _, r := range runs {
		text := r.Text
		if strings.TrimSpace(text) == "" {
			b.WriteString(text)
			continue
		}
		// Keep surrounding spaces outside the markers.
		lead := text[:len(text)-len(strings.TrimLeft(text, " "))]
		trail := text[len(strings.TrimRight(text, " ")):]
		core := strings.TrimSpace(text)
		switch {
		case r.Code:
			core = "`" + core + "`"
		default:
			core = mdEscaper.Replace(core)
			if r.Bold {
				core = "**" + core + "**"
			}
			if r.Italic {
				core = "*" + core + "*"
			}
		}
		if r.Href != "" {
			core = "[" + core + "](" + r.Href + ")"
		}
		b.WriteString(lead + core + trail)
	}
	return escapeBlockStart(strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " ")))
}

// escapeBlockStart escapes a leading marker that would make s a heading,
// quote, list item or thematic break.
func escapeBlockStart(s string) string {
	if s == "" {
		return s
	}
	spaceOrEnd := func(i int) bool { return i >= len(s) || s[i] == ' ' }
	switch c := s[0]; {
	case c == '#':
		n := len(s) - len(strings.TrimLeft(s, "#"))
		if n <= 6 && spaceOrEnd(n) {
			return `\` + s
		}
	case c == '>':
		return `\` + s
	case c == '-' || c == '+' || c == '=':
		if spaceOrEnd(1) || strings.Trim(s, string(c)+" ") == "" {
			return `\` + s
		}
	case c >= '0' && c <= '9':
		n := len(s) - len(strings.TrimLeft(s, "0123456789"))
		if n <= 9 && n < len(s) && (s[n] == '.' || s[n] == ')') && spaceOrEnd(n+1) {
			return s[:n] + `\` + s[n:]
		}
	}
	return s
}

// table renders a GFM table. The first row is the header row, as GFM
// requires one; spanning cells repeat their text in every position.
func table(t *doctree.TableData) string {
	if t == nil {
		return ""
	}
	rows, err := t.Rows()
	if err != nil || len(rows) == 0 || t.NumCols == 0 {
		return ""
	}
	width := make([]int, t.NumCols)
	for r := range rows {
		for c := range rows[r] {
			rows[r][c] = cellText(rows[r][c])
			width[c] = max(width[c], len([]rune(rows[r][c])), 3)
		}
	}
	var b strings.Builder
	line := func(cells []string) {
		b.WriteString("|")
		for c, s := range cells {
			b.WriteString(" " + s + strings.Repeat(" ", width[c]-len([]rune(s))) + " |")
		}
		b.WriteString("\n")
	}
	line(rows[0])
	sep := make([]string, t.NumCols)
	for c := range sep {
		sep[c] = strings.Repeat("-", width[c])
	}
	line(sep)
	for _, r := range rows[1:] {
		line(r)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func cellText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
