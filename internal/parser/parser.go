// Package parser holds the per-format backends. Each backend turns raw bytes
// of one format into a preliminary document tree.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// Options are per-call parse options.
type Options struct {
	Filename  string
	Password  string
	Detection detect.Detection
	// MaxPages rejects layout documents with more pages; 0 means no cap.
	MaxPages int
	Logger   *slog.Logger
}

func (o Options) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Backend parses one format's bytes into a document. Implementations must
// be safe for concurrent use.
type Backend interface {
	Name() string
	Formats() []detect.Format
	Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error)
}

// Registry maps formats to their backends. The first backend registered for
// a format is its default.
type Registry struct {
	byFormat map[detect.Format][]Backend
}

// NewRegistry returns a registry holding the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byFormat: make(map[detect.Format][]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&PDFParser{},
		&DOCXParser{},
		&PPTXParser{},
		&XLSXParser{},
		&HTMLParser{},
		&ImageParser{},
		&CSVParser{},
		&MarkdownParser{},
		&AsciiDocParser{},
		&TextParser{},
	)
}

// Register adds a backend for each format it handles.
func (r *Registry) Register(b Backend) {
	for _, f := range b.Formats() {
		r.byFormat[f] = append(r.byFormat[f], b)
	}
}

// For returns the backend for a format. An empty name selects the default.
func (r *Registry) For(f detect.Format, name string) (Backend, error) {
	list := r.byFormat[f]
	if len(list) == 0 {
		return nil, errs.Newf(errs.KindUnsupportedFormat, "select backend", "no backend for %s", f)
	}
	if name == "" {
		return list[0], nil
	}
	for _, b := range list {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, errs.Newf(errs.KindInvalidConfig, "select backend", "no backend %q for %s", name, f)
}

// Formats lists the formats with at least one backend, in stable order.
func (r *Registry) Formats() []detect.Format {
	var out []detect.Format
	for _, f := range detect.AllFormats {
		if len(r.byFormat[f]) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// newDocument starts a document named after the input file.
func newDocument(opts Options, f detect.Format) *doctree.Document {
	name := opts.Filename
	if name == "" {
		name = "document"
	}
	doc := doctree.New(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	doc.Origin = doctree.Origin{
		Filename: opts.Filename,
		MimeType: detect.MimeType(f),
		Format:   string(f),
	}
	if opts.Detection.MimeType != "" && opts.Detection.Format == f {
		doc.Origin.MimeType = opts.Detection.MimeType
	}
	return doc
}

// decodeText strips a byte-order mark and converts UTF-16 input to UTF-8.
func decodeText(data []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func corrupt(op string, err error) error {
	return errs.New(errs.KindCorruptInput, op, err)
}

func denied(op string, err error) error {
	return errs.New(errs.KindAccessDenied, op, err)
}

func empty(op string) error {
	return errs.Newf(errs.KindEmptyDocument, op, "no content")
}

// guard converts a panic inside a third-party parser into CorruptInput.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = corrupt(op, fmt.Errorf("parser panic: %v", r))
	}
}

// cancelled returns a Cancelled error if ctx is done.
func cancelled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errs.New(errs.KindCancelled, op, err)
	}
	return nil
}

// sectionStack nests content under the most recent heading of a lower
// level.
type sectionStack struct {
	doc     *doctree.Document
	entries []stackEntry
}

type stackEntry struct {
	id    doctree.NodeID
	level int
}

func newSectionStack(doc *doctree.Document) *sectionStack {
	return &sectionStack{doc: doc, entries: []stackEntry{{id: doctree.RootID, level: 0}}}
}

// heading adds a heading and makes it the parent of following content.
func (s *sectionStack) heading(text string, level int, prov ...doctree.ProvenanceItem) doctree.NodeID {
	level = max(level, 1)
	for len(s.entries) > 1 && s.entries[len(s.entries)-1].level >= level {
		s.entries = s.entries[:len(s.entries)-1]
	}
	id := s.doc.AddHeading(s.parent(), text, level, prov...)
	s.entries = append(s.entries, stackEntry{id: id, level: level})
	return id
}

// parent is where non-heading content goes.
func (s *sectionStack) parent() doctree.NodeID {
	return s.entries[len(s.entries)-1].id
}

// reset returns to the body, e.g. at a slide or sheet boundary.
func (s *sectionStack) reset() {
	s.entries = s.entries[:1]
}

// Sections nests content under the most recent heading of a lower level.
// It lets other packages build documents with the same sectioning the
// backends use.
type Sections struct{ stack *sectionStack }

func NewSections(doc *doctree.Document) *Sections {
	return &Sections{stack: newSectionStack(doc)}
}

// Heading adds a heading and makes it the parent of following content.
func (s *Sections) Heading(text string, level int, prov ...doctree.ProvenanceItem) doctree.NodeID {
	return s.stack.heading(text, level, prov...)
}

// Parent is where non-heading content goes.
func (s *Sections) Parent() doctree.NodeID { return s.stack.parent() }

// listNester groups consecutive list items, opening a nested list when the
// level rises and closing lists when it falls. Levels are 0-based.
type listNester struct {
	doc    *doctree.Document
	frames []listFrame
}

type listFrame struct {
	id    doctree.NodeID
	item  doctree.NodeID
	level int
}

func (l *listNester) add(parent doctree.NodeID, level int, enumerated bool, runs []doctree.TextRun, prov ...doctree.ProvenanceItem) doctree.NodeID {
	for len(l.frames) > 0 && l.frames[len(l.frames)-1].level > level {
		l.frames = l.frames[:len(l.frames)-1]
	}
	switch {
	case len(l.frames) == 0:
		l.frames = append(l.frames, listFrame{id: l.doc.AddList(parent, enumerated), item: -1, level: level})
	case l.frames[len(l.frames)-1].level < level && l.frames[len(l.frames)-1].item >= 0:
		top := l.frames[len(l.frames)-1]
		l.frames = append(l.frames, listFrame{id: l.doc.AddList(top.item, enumerated), item: -1, level: level})
	}
	top := &l.frames[len(l.frames)-1]
	marker := "-"
	if l.doc.Node(top.id).Enumerated {
		marker = strconv.Itoa(len(l.doc.Node(top.id).Children)+1) + "."
	}
	top.item = l.doc.Add(top.id, doctree.Node{Label: doctree.LabelListItem, Marker: marker, Runs: runs, Prov: prov})
	return top.item
}

// current returns the most recent item of the innermost open list, or -1.
func (l *listNester) current() doctree.NodeID {
	if len(l.frames) == 0 {
		return -1
	}
	return l.frames[len(l.frames)-1].item
}

// end closes every open list; the next item starts a new one.
func (l *listNester) end() {
	l.frames = l.frames[:0]
}

// mergeRuns joins adjacent runs with identical formatting and trims
// surrounding whitespace of the whole sequence.
func mergeRuns(runs []doctree.TextRun) []doctree.TextRun {
	var out []doctree.TextRun
	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Bold == r.Bold && last.Italic == r.Italic && last.Code == r.Code && last.Href == r.Href {
				last.Text += r.Text
				continue
			}
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	out[0].Text = strings.TrimLeft(out[0].Text, " \t\n")
	out[len(out)-1].Text = strings.TrimRight(out[len(out)-1].Text, " \t\n")
	if out[len(out)-1].Text == "" {
		out = out[:len(out)-1]
	}
	if len(out) > 0 && out[0].Text == "" {
		out = out[1:]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func runsText(runs []doctree.TextRun) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// collapseSpace replaces runs of whitespace with single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
