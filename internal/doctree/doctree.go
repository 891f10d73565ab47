// Package doctree holds the unified document model every backend converges
// on: an arena of nodes addressed by stable NodeID, rooted at a body group.
package doctree

import (
	"errors"
	"fmt"
	"strings"
)

// NodeID addresses a node in a Document's arena.
type NodeID int

const (
	// RootID is the body group every document starts with.
	RootID NodeID = 0
	// NoParent marks the root node's parent.
	NoParent NodeID = -1
)

// Ref returns a JSON-pointer style reference, e.g. "#/nodes/12".
func (id NodeID) Ref() string { return fmt.Sprintf("#/nodes/%d", id) }

// Label is the type of a node.
type Label string

const (
	LabelBody       Label = "body"
	LabelTitle      Label = "title"
	LabelHeading    Label = "heading"
	LabelParagraph  Label = "paragraph"
	LabelList       Label = "list"
	LabelListItem   Label = "list_item"
	LabelTable      Label = "table"
	LabelFigure     Label = "figure"
	LabelCaption    Label = "caption"
	LabelCode       Label = "code"
	LabelFormula    Label = "formula"
	LabelPageHeader Label = "page_header"
	LabelPageFooter Label = "page_footer"
)

// IsText reports whether nodes of this label carry a text payload.
func (l Label) IsText() bool {
	switch l {
	case LabelTitle, LabelHeading, LabelParagraph, LabelListItem, LabelCaption,
		LabelCode, LabelFormula, LabelPageHeader, LabelPageFooter:
		return true
	}
	return false
}

// IsFurniture reports whether the label marks page furniture that is not
// part of the body text.
func (l Label) IsFurniture() bool {
	return l == LabelPageHeader || l == LabelPageFooter
}

var (
	ErrDanglingRef     = errors.New("doctree: dangling node reference")
	ErrCycle           = errors.New("doctree: cycle in node graph")
	ErrParentMismatch  = errors.New("doctree: parent back-reference mismatch")
	ErrOverlappingSpan = errors.New("doctree: overlapping table spans")
	ErrSpanOutOfBounds = errors.New("doctree: table span out of bounds")
)

// BoundingBox is a rectangle in page coordinates with the origin at the
// top-left corner of the page.
type BoundingBox struct {
	L float64 `json:"l"`
	T float64 `json:"t"`
	R float64 `json:"r"`
	B float64 `json:"b"`
}

func (b BoundingBox) Width() float64  { return b.R - b.L }
func (b BoundingBox) Height() float64 { return b.B - b.T }

func (b BoundingBox) Area() float64 {
	if b.R <= b.L || b.B <= b.T {
		return 0
	}
	return (b.R - b.L) * (b.B - b.T)
}

// Intersect returns the overlapping rectangle; its Area is 0 when the boxes
// are disjoint.
func (b BoundingBox) Intersect(o BoundingBox) BoundingBox {
	return BoundingBox{
		L: max(b.L, o.L),
		T: max(b.T, o.T),
		R: min(b.R, o.R),
		B: min(b.B, o.B),
	}
}

// Union returns the smallest rectangle covering both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		L: min(b.L, o.L),
		T: min(b.T, o.T),
		R: max(b.R, o.R),
		B: max(b.B, o.B),
	}
}

// Coverage is the fraction of b covered by o.
func (b BoundingBox) Coverage(o BoundingBox) float64 {
	a := b.Area()
	if a == 0 {
		return 0
	}
	return b.Intersect(o).Area() / a
}

// ProvenanceItem traces a node back to a region of a source page.
type ProvenanceItem struct {
	Page       int          `json:"page"`
	BBox       *BoundingBox `json:"bbox,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Source     string       `json:"source,omitempty"`
}

// TextRun is a span of text with uniform formatting.
type TextRun struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Code   bool   `json:"code,omitempty"`
	Href   string `json:"href,omitempty"`
}

// ImageRef points at image content. Embedded images use a data: URI.
type ImageRef struct {
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	DPI      int    `json:"dpi,omitempty"`
}

// Node is one element of the document.
type Node struct {
	ID       NodeID   `json:"id"`
	Label    Label    `json:"label"`
	Parent   NodeID   `json:"parent"`
	Children []NodeID `json:"children,omitempty"`

	// Level is the heading level for titles and headings and the nesting
	// depth for lists. It is independent of tree depth.
	Level int `json:"level,omitempty"`

	Runs     []TextRun        `json:"runs,omitempty"`
	Table    *TableData       `json:"table,omitempty"`
	Image    *ImageRef        `json:"image,omitempty"`
	Captions []NodeID         `json:"captions,omitempty"`
	Prov     []ProvenanceItem `json:"prov,omitempty"`

	Enumerated bool   `json:"enumerated,omitempty"`
	Marker     string `json:"marker,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Text returns the concatenated text of the node's runs.
func (n *Node) Text() string {
	if len(n.Runs) == 1 {
		return n.Runs[0].Text
	}
	var b strings.Builder
	for _, r := range n.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// SetText replaces the node's runs with a single plain run.
func (n *Node) SetText(s string) {
	n.Runs = []TextRun{{Text: s}}
}

// Page returns the first page the node appears on, or 0.
func (n *Node) Page() int {
	if len(n.Prov) == 0 {
		return 0
	}
	return n.Prov[0].Page
}

// TextCell is a positioned piece of text on a page, from the text layer or OCR.
type TextCell struct {
	Text       string
	BBox       BoundingBox
	Confidence float64
	FromOCR    bool
}

// Page is a physical page of a layout-bearing document.
type Page struct {
	Number       int     `json:"number"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	HasTextLayer bool    `json:"has_text_layer"`
	HasRaster    bool    `json:"has_raster,omitempty"`

	// Raster holds the encoded page image when the backend has one (image
	// inputs). PDF pages are rasterized on demand by the stages that need it.
	Raster []byte `json:"-"`
	// Cells is the positioned text of the page used by OCR and table stages.
	Cells []TextCell `json:"-"`
}

// Origin describes the input a document was produced from.
type Origin struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Format   string `json:"format,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Document exclusively owns its nodes and pages.
type Document struct {
	Name   string  `json:"name"`
	Origin Origin  `json:"origin"`
	Nodes  []*Node `json:"nodes"`
	Pages  []*Page `json:"pages,omitempty"`
}

// New returns a document holding only the root body node.
func New(name string) *Document {
	return &Document{
		Name:  name,
		Nodes: []*Node{{ID: RootID, Label: LabelBody, Parent: NoParent}},
	}
}

// Root returns the body node.
func (d *Document) Root() *Node { return d.Nodes[RootID] }

// Node returns the node with the given ID, or nil.
func (d *Document) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(d.Nodes) {
		return nil
	}
	return d.Nodes[id]
}

// Add appends n as the last child of parent and returns its ID.
func (d *Document) Add(parent NodeID, n Node) NodeID {
	p := d.Node(parent)
	if p == nil {
		panic(fmt.Sprintf("doctree: add under unknown parent %d", parent))
	}
	return d.Insert(parent, len(p.Children), n)
}

// Insert places n at position index among parent's children.
func (d *Document) Insert(parent NodeID, index int, n Node) NodeID {
	p := d.Node(parent)
	if p == nil {
		panic(fmt.Sprintf("doctree: insert under unknown parent %d", parent))
	}
	id := NodeID(len(d.Nodes))
	n.ID = id
	n.Parent = parent
	n.Children = nil
	d.Nodes = append(d.Nodes, &n)

	index = max(0, min(index, len(p.Children)))
	p.Children = append(p.Children, 0)
	copy(p.Children[index+1:], p.Children[index:])
	p.Children[index] = id
	return id
}

// Move re-parents id as the last child of parent.
func (d *Document) Move(id, parent NodeID) {
	d.Detach(id)
	n, p := d.Node(id), d.Node(parent)
	n.Parent = parent
	p.Children = append(p.Children, id)
}

// Detach unlinks id from its parent. The node stays in the arena until the
// next Compact.
func (d *Document) Detach(id NodeID) {
	n := d.Node(id)
	if n == nil || n.Parent == NoParent {
		return
	}
	if p := d.Node(n.Parent); p != nil {
		for i, c := range p.Children {
			if c == id {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
		for i, c := range p.Captions {
			if c == id {
				p.Captions = append(p.Captions[:i], p.Captions[i+1:]...)
				break
			}
		}
	}
	n.Parent = NoParent
}

// AddText appends a text-bearing node.
func (d *Document) AddText(parent NodeID, label Label, text string, prov ...ProvenanceItem) NodeID {
	return d.Add(parent, Node{Label: label, Runs: []TextRun{{Text: text}}, Prov: prov})
}

// AddRuns appends a text-bearing node with formatted runs.
func (d *Document) AddRuns(parent NodeID, label Label, runs []TextRun, prov ...ProvenanceItem) NodeID {
	return d.Add(parent, Node{Label: label, Runs: runs, Prov: prov})
}

// AddHeading appends a heading at the given level (1 is the top level).
func (d *Document) AddHeading(parent NodeID, text string, level int, prov ...ProvenanceItem) NodeID {
	return d.Add(parent, Node{Label: LabelHeading, Level: level, Runs: []TextRun{{Text: text}}, Prov: prov})
}

// AddList appends a list group.
func (d *Document) AddList(parent NodeID, enumerated bool) NodeID {
	level := 1
	if p := d.Node(parent); p != nil && p.Label == LabelListItem {
		if pl := d.Node(p.Parent); pl != nil {
			level = pl.Level + 1
		}
	}
	return d.Add(parent, Node{Label: LabelList, Enumerated: enumerated, Level: level})
}

// AddListItem appends an item to a list group.
func (d *Document) AddListItem(list NodeID, text, marker string, prov ...ProvenanceItem) NodeID {
	return d.Add(list, Node{Label: LabelListItem, Marker: marker, Runs: []TextRun{{Text: text}}, Prov: prov})
}

// AddTable appends a table node.
func (d *Document) AddTable(parent NodeID, t *TableData, prov ...ProvenanceItem) NodeID {
	return d.Add(parent, Node{Label: LabelTable, Table: t, Prov: prov})
}

// AddFigure appends a figure node.
func (d *Document) AddFigure(parent NodeID, img *ImageRef, prov ...ProvenanceItem) NodeID {
	return d.Add(parent, Node{Label: LabelFigure, Image: img, Prov: prov})
}

// AddCaption attaches a caption node to a table or figure.
func (d *Document) AddCaption(owner NodeID, text string, prov ...ProvenanceItem) NodeID {
	id := d.AddText(owner, LabelCaption, text, prov...)
	o := d.Node(owner)
	o.Captions = append(o.Captions, id)
	return id
}

// AddPage appends a page and returns it.
func (d *Document) AddPage(p Page) *Page {
	if p.Number == 0 {
		p.Number = len(d.Pages) + 1
	}
	d.Pages = append(d.Pages, &p)
	return d.Pages[len(d.Pages)-1]
}

// Page returns the page with the given 1-based number, or nil.
func (d *Document) Page(number int) *Page {
	for _, p := range d.Pages {
		if p.Number == number {
			return p
		}
	}
	return nil
}

// IsEmpty reports whether the document has neither content nor pages.
func (d *Document) IsEmpty() bool {
	return len(d.Root().Children) == 0 && len(d.Pages) == 0
}

// HasContent reports whether any node hangs off the body.
func (d *Document) HasContent() bool {
	return len(d.Root().Children) > 0
}

// Clone returns a deep copy sharing no mutable state with d.
func (d *Document) Clone() *Document {
	c := &Document{
		Name:   d.Name,
		Origin: d.Origin,
		Nodes:  make([]*Node, len(d.Nodes)),
		Pages:  make([]*Page, len(d.Pages)),
	}
	for i, n := range d.Nodes {
		c.Nodes[i] = n.clone()
	}
	for i, p := range d.Pages {
		cp := *p
		cp.Cells = append([]TextCell(nil), p.Cells...)
		c.Pages[i] = &cp
	}
	if len(d.Pages) == 0 {
		c.Pages = nil
	}
	return c
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = append([]NodeID(nil), n.Children...)
	c.Captions = append([]NodeID(nil), n.Captions...)
	c.Runs = append([]TextRun(nil), n.Runs...)
	if n.Prov != nil {
		c.Prov = make([]ProvenanceItem, len(n.Prov))
		for i, p := range n.Prov {
			c.Prov[i] = p
			if p.BBox != nil {
				bb := *p.BBox
				c.Prov[i].BBox = &bb
			}
		}
	}
	if n.Table != nil {
		c.Table = n.Table.Clone()
	}
	if n.Image != nil {
		img := *n.Image
		c.Image = &img
	}
	return &c
}
