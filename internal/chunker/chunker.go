package chunker

import (
	"errors"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// DefaultMaxTokens is the token budget used when Config.MaxTokens is unset.
const DefaultMaxTokens = 512

// Config controls chunking.
type Config struct {
	// MaxTokens bounds the contextualized token count of a chunk.
	MaxTokens int
	// Tokenizer counts tokens. Defaults to WordTokenizer.
	Tokenizer Tokenizer
	// MergeListItems keeps a whole list as one candidate instead of one
	// candidate per item.
	MergeListItems bool
	// Delimiter joins headings, captions and body parts. Defaults to "\n".
	Delimiter string
	// SplitOversized splits text candidates that do not fit the budget on
	// their own at sentence and word boundaries. Tables and figures are
	// never split.
	SplitOversized bool
	// IncludeFurniture chunks page headers and footers as well.
	IncludeFurniture bool
}

// DefaultConfig returns sensible defaults for embedding-sized chunks.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      DefaultMaxTokens,
		Tokenizer:      WordTokenizer{},
		MergeListItems: true,
		Delimiter:      "\n",
	}
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Tokenizer == nil {
		c.Tokenizer = WordTokenizer{}
	}
	if c.Delimiter == "" {
		c.Delimiter = "\n"
	}
	return c
}

// Chunk is a contiguous run of document content sharing one heading path.
// NodeIDs refer back into the document the chunk was built from.
type Chunk struct {
	Index     int              `json:"index"`
	Text      string           `json:"text"`
	Headings  []string         `json:"headings,omitempty"`
	Captions  []string         `json:"captions,omitempty"`
	NodeIDs   []doctree.NodeID `json:"node_ids"`
	PageStart int              `json:"page_start,omitempty"`
	PageEnd   int              `json:"page_end,omitempty"`
	Tokens    int              `json:"tokens"`

	// atomic marks table and figure chunks, which are never merged or split.
	atomic bool
}

// Chunker splits documents into chunks. It holds no per-document state and
// is safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Zero fields in cfg take their defaults.
func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Contextualize returns the text an embedding model should see for ch: the
// heading path, most specific last, then captions, then the body, joined
// by the delimiter.
func (c *Chunker) Contextualize(ch Chunk) string {
	parts := make([]string, 0, len(ch.Headings)+len(ch.Captions)+1)
	parts = append(parts, ch.Headings...)
	parts = append(parts, ch.Captions...)
	if ch.Text != "" {
		parts = append(parts, ch.Text)
	}
	return strings.Join(parts, c.cfg.Delimiter)
}

// Chunks returns the chunk sequence for doc. The sequence is computed
// lazily as it is ranged over and each range starts over from the first
// chunk, yielding the same chunks every time. doc must not be modified
// while the sequence is in use. Chunks assumes doc is structurally valid:
// a dangling reference ends the sequence early. All checks first.
func (c *Chunker) Chunks(doc *doctree.Document) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		index := 0
		emit := func(ch Chunk) bool {
			ch.Index = index
			ch.Tokens = c.cfg.Tokenizer.Count(c.Contextualize(ch))
			index++
			return yield(ch)
		}

		var pending *Chunk
		for cand := range c.candidates(doc) {
			if pending != nil {
				if merged, ok := c.merge(*pending, cand); ok {
					pending = &merged
					continue
				}
				if !c.flush(*pending, emit) {
					return
				}
			}
			pending = &cand
		}
		if pending != nil {
			c.flush(*pending, emit)
		}
	}
}

// All validates doc and collects every chunk of it.
func (c *Chunker) All(doc *doctree.Document) ([]Chunk, error) {
	if doc == nil {
		return nil, errs.Newf(errs.KindUnknown, "chunk", "no document")
	}
	if err := doc.Validate(); err != nil {
		return nil, errs.New(errs.KindUnknown, "chunk", err)
	}
	return slices.Collect(c.Chunks(doc)), nil
}

// flush emits a finished candidate, splitting it first when it is oversized
// and the policy allows it.
func (c *Chunker) flush(ch Chunk, emit func(Chunk) bool) bool {
	if !c.cfg.SplitOversized || ch.atomic || c.fits(ch) {
		return emit(ch)
	}
	// Pieces are measured with their context; token counts of joined
	// strings need not add up.
	fits := func(text string) bool {
		piece := ch
		piece.Text = text
		return c.fits(piece)
	}
	for _, part := range splitText(ch.Text, fits) {
		piece := ch
		piece.Text = part
		if !emit(piece) {
			return false
		}
	}
	return true
}

func (c *Chunker) fits(ch Chunk) bool {
	return c.cfg.Tokenizer.Count(c.Contextualize(ch)) <= c.cfg.MaxTokens
}

// merge joins b onto a when both are plain text under the same heading path
// and the result stays within budget.
func (c *Chunker) merge(a, b Chunk) (Chunk, bool) {
	if !slices.Equal(a.Headings, b.Headings) {
		return Chunk{}, false
	}
	if a.atomic || b.atomic {
		return Chunk{}, false
	}
	m := a
	m.Text = a.Text + c.cfg.Delimiter + b.Text
	m.NodeIDs = append(slices.Clone(a.NodeIDs), b.NodeIDs...)
	m.PageStart, m.PageEnd = spanPages(a.PageStart, a.PageEnd, b.PageStart, b.PageEnd)
	if !c.fits(m) {
		return Chunk{}, false
	}
	return m, true
}

var errStop = errors.New("chunker: stop")

// candidates walks doc in reading order and yields one candidate per
// content unit: a paragraph-like leaf, a list (or list item), a table or a
// figure. Headings update the heading path and produce no candidate.
func (c *Chunker) candidates(doc *doctree.Document) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		type heading struct {
			level int
			text  string
		}
		var stack []heading
		path := func() []string {
			if len(stack) == 0 {
				return nil
			}
			out := make([]string, len(stack))
			for i, h := range stack {
				out[i] = h.text
			}
			return out
		}
		send := func(ch Chunk) error {
			if !yield(ch) {
				return errStop
			}
			return nil
		}

		doc.Walk(func(n *doctree.Node, _ int) error {
			switch n.Label {
			case doctree.LabelTitle, doctree.LabelHeading:
				level := n.Level
				if n.Label == doctree.LabelTitle {
					level = 0
				}
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				if text := strings.TrimSpace(n.Text()); text != "" {
					stack = append(stack, heading{level: level, text: text})
				}
				return nil

			case doctree.LabelPageHeader, doctree.LabelPageFooter:
				if !c.cfg.IncludeFurniture {
					return doctree.SkipChildren
				}
				return c.textCandidate(n, path(), send)

			case doctree.LabelCaption:
				// Captions travel with their table or figure.
				return doctree.SkipChildren

			case doctree.LabelTable:
				ch := c.tableCandidate(doc, n, path())
				if err := send(ch); err != nil {
					return err
				}
				return doctree.SkipChildren

			case doctree.LabelFigure:
				ch, ok := c.figureCandidate(doc, n, path())
				if !ok {
					return doctree.SkipChildren
				}
				if err := send(ch); err != nil {
					return err
				}
				return doctree.SkipChildren

			case doctree.LabelList:
				if !c.cfg.MergeListItems {
					return nil
				}
				ch, ok := c.listCandidate(doc, n, path())
				if !ok {
					return doctree.SkipChildren
				}
				if err := send(ch); err != nil {
					return err
				}
				return doctree.SkipChildren

			case doctree.LabelListItem:
				text := strings.TrimSpace(n.Text())
				if text == "" {
					return nil
				}
				ch := Chunk{
					Text:     itemMarker(doc, n) + " " + text,
					Headings: path(),
					NodeIDs:  []doctree.NodeID{n.ID},
				}
				ch.PageStart, ch.PageEnd = nodePages(n)
				return send(ch)
			}
			if n.Label.IsText() {
				return c.textCandidate(n, path(), send)
			}
			return nil
		})
	}
}

func (c *Chunker) textCandidate(n *doctree.Node, headings []string, send func(Chunk) error) error {
	text := strings.TrimSpace(n.Text())
	if text == "" {
		return nil
	}
	ch := Chunk{Text: text, Headings: headings, NodeIDs: []doctree.NodeID{n.ID}}
	ch.PageStart, ch.PageEnd = nodePages(n)
	return send(ch)
}

// listCandidate flattens a list and its nested lists into one candidate,
// one item per line, nested items indented.
func (c *Chunker) listCandidate(doc *doctree.Document, list *doctree.Node, headings []string) (Chunk, bool) {
	ch := Chunk{Headings: headings, NodeIDs: []doctree.NodeID{list.ID}}
	ch.PageStart, ch.PageEnd = nodePages(list)
	var lines []string
	var visit func(l *doctree.Node, indent string)
	visit = func(l *doctree.Node, indent string) {
		for _, id := range l.Children {
			item := doc.Node(id)
			if item == nil {
				continue
			}
			if item.Label == doctree.LabelListItem {
				if text := strings.TrimSpace(item.Text()); text != "" {
					lines = append(lines, indent+itemMarker(doc, item)+" "+text)
					ch.NodeIDs = append(ch.NodeIDs, item.ID)
					s, e := nodePages(item)
					ch.PageStart, ch.PageEnd = spanPages(ch.PageStart, ch.PageEnd, s, e)
				}
			}
			for _, cid := range item.Children {
				if sub := doc.Node(cid); sub != nil && sub.Label == doctree.LabelList {
					visit(sub, indent+"  ")
				}
			}
			if item.Label == doctree.LabelList {
				visit(item, indent+"  ")
			}
		}
	}
	visit(list, "")
	if len(lines) == 0 {
		return Chunk{}, false
	}
	ch.Text = strings.Join(lines, c.cfg.Delimiter)
	return ch, true
}

// tableCandidate renders a table one row per line with cells separated by
// " | ". Spanning cells repeat in every position they cover.
func (c *Chunker) tableCandidate(doc *doctree.Document, n *doctree.Node, headings []string) Chunk {
	ch := Chunk{Headings: headings, NodeIDs: []doctree.NodeID{n.ID}, atomic: true}
	ch.PageStart, ch.PageEnd = nodePages(n)
	ch.Captions = captions(doc, n)
	if n.Table != nil {
		if rows, err := n.Table.Rows(); err == nil {
			lines := make([]string, 0, len(rows))
			for _, r := range rows {
				lines = append(lines, strings.Join(r, " | "))
			}
			ch.Text = strings.Join(lines, "\n")
		}
	}
	return ch
}

// figureCandidate yields the figure's captions and any text inside it. A
// figure with neither has nothing to embed.
func (c *Chunker) figureCandidate(doc *doctree.Document, n *doctree.Node, headings []string) (Chunk, bool) {
	ch := Chunk{Headings: headings, NodeIDs: []doctree.NodeID{n.ID}, atomic: true}
	ch.PageStart, ch.PageEnd = nodePages(n)
	ch.Captions = captions(doc, n)
	var texts []string
	for _, id := range n.Children {
		child := doc.Node(id)
		if child == nil || child.Label == doctree.LabelCaption || !child.Label.IsText() {
			continue
		}
		if t := strings.TrimSpace(child.Text()); t != "" {
			texts = append(texts, t)
		}
	}
	ch.Text = strings.Join(texts, c.cfg.Delimiter)
	if ch.Text == "" && len(ch.Captions) == 0 {
		return Chunk{}, false
	}
	return ch, true
}

func captions(doc *doctree.Document, n *doctree.Node) []string {
	var out []string
	for _, id := range n.Captions {
		if cn := doc.Node(id); cn != nil {
			if t := strings.TrimSpace(cn.Text()); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func itemMarker(doc *doctree.Document, item *doctree.Node) string {
	if item.Marker != "" {
		return item.Marker
	}
	list := doc.Node(item.Parent)
	if list == nil || !list.Enumerated {
		return "-"
	}
	n := 1
	for _, id := range list.Children {
		if id == item.ID {
			break
		}
		if sib := doc.Node(id); sib != nil && sib.Label == doctree.LabelListItem {
			n++
		}
	}
	return strconv.Itoa(n) + "."
}

func nodePages(n *doctree.Node) (int, int) {
	start, end := 0, 0
	for _, p := range n.Prov {
		start, end = spanPages(start, end, p.Page, p.Page)
	}
	return start, end
}

// spanPages unions two page ranges where 0 means unknown.
func spanPages(s1, e1, s2, e2 int) (int, int) {
	switch {
	case s1 == 0:
		return s2, e2
	case s2 == 0:
		return s1, e1
	}
	return min(s1, s2), max(e1, e2)
}
