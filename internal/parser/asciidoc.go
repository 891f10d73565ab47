package parser

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// AsciiDocParser handles AsciiDoc markup: section titles, lists, listing
// and literal blocks, tables, images and block titles.
type AsciiDocParser struct{}

func (p *AsciiDocParser) Name() string             { return "asciidoc" }
func (p *AsciiDocParser) Formats() []detect.Format { return []detect.Format{detect.FormatAsciiDoc} }

var (
	adocSection = regexp.MustCompile(`^(=+)\s+(.+)$`)
	adocList    = regexp.MustCompile(`^(\*+|\.+|-)\s+(.+)$`)
	adocImage   = regexp.MustCompile(`^image::([^\[]*)\[([^\]]*)\]$`)
	adocAttr    = regexp.MustCompile(`^:[\w-]+:`)
	adocSource  = regexp.MustCompile(`^\[source(?:,\s*([\w+-]+))?.*\]$`)
	adocInline  = regexp.MustCompile("\\*([^*]+)\\*|_([^_]+)_|`([^`]+)`|(?:link:)?((?:https?|ftp|mailto):[^\\s\\[]+)\\[([^\\]]*)\\]")
)

func (p *AsciiDocParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	src, err := decodeText(data)
	if err != nil {
		return nil, corrupt("parse asciidoc", err)
	}
	doc := newDocument(opts, detect.FormatAsciiDoc)
	b := &adocBuilder{doc: doc, stack: newSectionStack(doc), lists: listNester{doc: doc}}
	b.parse(strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n"))
	if err := cancelled(ctx, "parse asciidoc"); err != nil {
		return nil, err
	}
	if !doc.HasContent() {
		return doc, empty("parse asciidoc")
	}
	return doc, nil
}

type adocBuilder struct {
	doc   *doctree.Document
	stack *sectionStack
	lists listNester
	para  []string
	// blockTitle is a pending ".Title" line for the next table or image.
	blockTitle string
	language   string
}

func (b *adocBuilder) parse(lines []string) {
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			b.flush()
			b.lists.end()
			continue
		case strings.HasPrefix(trimmed, "//"), adocAttr.MatchString(trimmed):
			continue
		case trimmed == "----" || trimmed == "....":
			b.flush()
			b.lists.end()
			end := closing(lines, i+1, trimmed)
			id := b.doc.AddText(b.stack.parent(), doctree.LabelCode, strings.Join(lines[i+1:end], "\n"))
			b.doc.Node(id).Language = b.language
			b.language = ""
			i = end
			continue
		case trimmed == "|===":
			b.flush()
			b.lists.end()
			end := closing(lines, i+1, trimmed)
			b.table(lines[i+1 : end])
			i = end
			continue
		case trimmed == "____" || trimmed == "====" || trimmed == "****":
			// Quote, example and sidebar delimiters; the content is parsed
			// as ordinary blocks.
			b.flush()
			continue
		}

		if m := adocSource.FindStringSubmatch(trimmed); m != nil {
			b.language = m[1]
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			continue
		}
		if m := adocSection.FindStringSubmatch(trimmed); m != nil && len(b.para) == 0 {
			b.lists.end()
			text := strings.TrimSpace(m[2])
			if len(m[1]) == 1 {
				b.doc.Add(doctree.RootID, doctree.Node{Label: doctree.LabelTitle, Level: 1, Runs: []doctree.TextRun{{Text: text}}})
			} else {
				b.stack.heading(text, len(m[1])-1)
			}
			continue
		}
		if m := adocImage.FindStringSubmatch(trimmed); m != nil {
			b.flush()
			b.lists.end()
			id := b.doc.AddFigure(b.stack.parent(), &doctree.ImageRef{URI: m[1]})
			caption := b.blockTitle
			if caption == "" {
				caption = strings.TrimSpace(m[2])
			}
			if caption != "" {
				b.doc.AddCaption(id, caption)
			}
			b.blockTitle = ""
			continue
		}
		if strings.HasPrefix(trimmed, ".") && len(trimmed) > 1 && trimmed[1] != '.' && trimmed[1] != ' ' && len(b.para) == 0 {
			b.blockTitle = trimmed[1:]
			continue
		}
		if m := adocList.FindStringSubmatch(trimmed); m != nil && len(b.para) == 0 {
			marker := m[1]
			enumerated := marker[0] == '.'
			level := len(marker) - 1
			if marker == "-" {
				level = 0
			}
			b.lists.add(b.stack.parent(), level, enumerated, adocRuns(m[2]))
			continue
		}
		if item := b.lists.current(); item >= 0 && len(b.para) == 0 {
			n := b.doc.Node(item)
			n.Runs = mergeRuns(append(append(n.Runs, doctree.TextRun{Text: " "}), adocRuns(trimmed)...))
			continue
		}
		b.para = append(b.para, trimmed)
	}
	b.flush()
}

func (b *adocBuilder) flush() {
	if len(b.para) == 0 {
		return
	}
	text := strings.Join(b.para, " ")
	b.para = nil
	b.doc.AddRuns(b.stack.parent(), doctree.LabelParagraph, adocRuns(text))
}

// table reads cells delimited by "|". The first line fixes the column
// count; it is the header row when a blank line follows it.
func (b *adocBuilder) table(lines []string) {
	var (
		cells  []string
		cols   int
		header bool
	)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if i == 1 {
				header = true
			}
			continue
		}
		parts := strings.Split(line, "|")
		if !strings.HasPrefix(line, "|") {
			// Continuation of the previous cell.
			if n := len(cells); n > 0 {
				cells[n-1] += " " + line
			}
			continue
		}
		row := make([]string, 0, len(parts)-1)
		for _, c := range parts[1:] {
			row = append(row, strings.TrimSpace(c))
		}
		if cols == 0 {
			cols = len(row)
		}
		cells = append(cells, row...)
	}
	if cols == 0 {
		return
	}
	var rows [][]string
	for i := 0; i < len(cells); i += cols {
		rows = append(rows, cells[i:min(i+cols, len(cells))])
	}
	headers := 0
	if header {
		headers = 1
	}
	id := b.doc.AddTable(b.stack.parent(), doctree.NewTable(rows, headers))
	if b.blockTitle != "" {
		b.doc.AddCaption(id, b.blockTitle)
		b.blockTitle = ""
	}
}

// closing returns the index of the line closing a delimited block, or
// len(lines) when the block is unterminated.
func closing(lines []string, from int, delim string) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			return i
		}
	}
	return len(lines)
}

// adocRuns splits constrained bold, italic, monospace and link markup into
// runs.
func adocRuns(text string) []doctree.TextRun {
	var runs []doctree.TextRun
	last := 0
	for _, m := range adocInline.FindAllStringSubmatchIndex(text, -1) {
		if !wordBoundary(text, m[0], m[1]) {
			continue
		}
		runs = append(runs, doctree.TextRun{Text: text[last:m[0]]})
		switch {
		case m[2] >= 0:
			runs = append(runs, doctree.TextRun{Text: text[m[2]:m[3]], Bold: true})
		case m[4] >= 0:
			runs = append(runs, doctree.TextRun{Text: text[m[4]:m[5]], Italic: true})
		case m[6] >= 0:
			runs = append(runs, doctree.TextRun{Text: text[m[6]:m[7]], Code: true})
		default:
			href, label := text[m[8]:m[9]], text[m[10]:m[11]]
			if label == "" {
				label = href
			}
			runs = append(runs, doctree.TextRun{Text: label, Href: href})
		}
		last = m[1]
	}
	runs = append(runs, doctree.TextRun{Text: text[last:]})
	return mergeRuns(runs)
}

// wordBoundary reports whether text[start:end] is not glued to letters or
// digits on either side, as constrained AsciiDoc markup requires.
func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
