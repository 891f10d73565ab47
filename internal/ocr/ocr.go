// Package ocr defines the text recognition capability used by the OCR
// enrichment stage, plus engines backed by the tesseract and pdftoppm
// command line tools.
package ocr

import (
	"context"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
)

// Word is one recognized word. BBox is in image pixels with the origin at
// the top-left corner.
type Word struct {
	Text       string
	BBox       doctree.BoundingBox
	Confidence float64 // 0..1
	Block      int
	Para       int
	Line       int
}

// Result is the recognized text of one image.
type Result struct {
	Width  int // image width in pixels
	Height int
	Words  []Word
}

// Line is a run of words, either a text line or a whole paragraph.
type Line struct {
	Text       string
	BBox       doctree.BoundingBox
	Confidence float64
}

// Lines groups words into text lines in recognition order.
func (r *Result) Lines() []Line {
	return r.group(func(w Word) [3]int { return [3]int{w.Block, w.Para, w.Line} })
}

// Paragraphs groups words into paragraphs in recognition order.
func (r *Result) Paragraphs() []Line {
	return r.group(func(w Word) [3]int { return [3]int{w.Block, w.Para, 0} })
}

func (r *Result) group(key func(Word) [3]int) []Line {
	var (
		out   []Line
		words []string
		conf  float64
		last  [3]int
	)
	flush := func() {
		if len(words) == 0 {
			return
		}
		out[len(out)-1].Text = strings.Join(words, " ")
		out[len(out)-1].Confidence = conf / float64(len(words))
		words, conf = nil, 0
	}
	for i, w := range r.Words {
		k := key(w)
		if i == 0 || k != last {
			flush()
			out = append(out, Line{BBox: w.BBox})
			last = k
		}
		cur := &out[len(out)-1]
		cur.BBox = cur.BBox.Union(w.BBox)
		words = append(words, w.Text)
		conf += w.Confidence
	}
	flush()
	return out
}

// Engine recognizes text in an encoded image (PNG, JPEG, TIFF, ...).
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img []byte) (*Result, error)
}

// RasterOptions control page rasterization.
type RasterOptions struct {
	DPI      int
	Password string
}

// Rasterizer renders one page of a PDF to a PNG image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, page int, opts RasterOptions) ([]byte, error)
}
