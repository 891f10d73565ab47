package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/ocr"
)

// OCRStage recognizes text on pages that have raster content but no text
// layer, or on every page when ForceFullPage is set.
type OCRStage struct {
	Engine     ocr.Engine
	Rasterizer ocr.Rasterizer
	// ForceFullPage OCRs every page and replaces its text-layer nodes.
	ForceFullPage bool
	DPI           int
	Threads       int
	PageTimeout   time.Duration
}

func (s *OCRStage) Name() string { return "ocr" }

type pageOCR struct {
	page  *doctree.Page
	lines []ocr.Line
	paras []ocr.Line
}

func (s *OCRStage) Run(ctx context.Context, in Input) (*doctree.Document, *Report, error) {
	if s.Engine == nil {
		return nil, nil, errs.Newf(errs.KindEnrichmentBackendError, "ocr", "no engine configured")
	}
	var pages []*doctree.Page
	for _, p := range in.Doc.Pages {
		if s.ForceFullPage || (p.HasRaster && !p.HasTextLayer) {
			pages = append(pages, p)
		}
	}
	report := &Report{}
	if len(pages) == 0 {
		return in.Doc, report, nil
	}

	results := make([]*pageOCR, len(pages))
	units, err := RunUnits(ctx, len(pages), s.Threads, s.PageTimeout, func(ctx context.Context, i int) error {
		res, err := s.recognize(ctx, in, pages[i])
		if err != nil {
			return errs.Enrichment(fmt.Sprintf("ocr page %d", pages[i].Number), err)
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, nil, errs.New(errs.KindCancelled, "ocr", err)
	}

	doc := in.Doc.Clone()
	for i, u := range units {
		u.Page = pages[i].Number
		report.Units = append(report.Units, u)
		if u.Err != nil {
			in.Log().Warn("ocr page failed", "page", u.Page, "error", u.Err)
			continue
		}
		s.merge(doc, results[i])
	}
	return doc, report, nil
}

func (s *OCRStage) recognize(ctx context.Context, in Input, page *doctree.Page) (*pageOCR, error) {
	img := page.Raster
	if len(img) == 0 {
		if s.Rasterizer == nil {
			return nil, fmt.Errorf("page %d has no raster and no rasterizer is configured", page.Number)
		}
		var err error
		img, err = s.Rasterizer.Rasterize(ctx, in.Source, page.Number, ocr.RasterOptions{DPI: s.DPI, Password: in.Password})
		if err != nil {
			return nil, err
		}
	}
	res, err := s.Engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("%s returned no image size", s.Engine.Name())
	}
	sx, sy := page.Width/float64(res.Width), page.Height/float64(res.Height)
	scale := func(ls []ocr.Line) []ocr.Line {
		for i := range ls {
			b := ls[i].BBox
			ls[i].BBox = doctree.BoundingBox{L: b.L * sx, T: b.T * sy, R: b.R * sx, B: b.B * sy}
		}
		return ls
	}
	return &pageOCR{page: page, lines: scale(res.Lines()), paras: scale(res.Paragraphs())}, nil
}

// merge writes one page's recognized text into doc: OCR cells on the page
// and one paragraph per recognized paragraph, placed in reading order.
func (s *OCRStage) merge(doc *doctree.Document, res *pageOCR) {
	page := doc.Page(res.page.Number)
	if page == nil {
		return
	}
	if s.ForceFullPage && page.HasTextLayer {
		dropTextLayer(doc, page.Number)
		page.Cells = nil
	}
	kept := page.Cells[:0]
	for _, c := range page.Cells {
		if !c.FromOCR {
			kept = append(kept, c)
		}
	}
	page.Cells = kept
	for _, l := range res.lines {
		page.Cells = append(page.Cells, doctree.TextCell{Text: l.Text, BBox: l.BBox, Confidence: l.Confidence, FromOCR: true})
	}
	for _, p := range res.paras {
		bbox := p.BBox
		idx := insertionIndex(doc, page.Number, bbox.T)
		doc.Insert(doctree.RootID, idx, doctree.Node{
			Label: doctree.LabelParagraph,
			Runs:  []doctree.TextRun{{Text: p.Text}},
			Prov:  []doctree.ProvenanceItem{{Page: page.Number, BBox: &bbox, Confidence: p.Confidence, Source: "ocr"}},
		})
	}
}

// dropTextLayer detaches the text nodes that came from a page's text layer.
func dropTextLayer(doc *doctree.Document, page int) {
	var drop []doctree.NodeID
	doc.Walk(func(n *doctree.Node, _ int) error {
		if !n.Label.IsText() || n.Label == doctree.LabelCaption || len(n.Children) > 0 {
			return nil
		}
		if len(n.Prov) > 0 && n.Prov[0].Page == page && n.Prov[0].Source == "text_layer" {
			drop = append(drop, n.ID)
		}
		return nil
	})
	for _, id := range drop {
		doc.Detach(id)
	}
}
