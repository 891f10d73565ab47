package vlm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/enrich"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/ocr"
)

// Stage reads every page image with a Model and builds the document body
// from the answers alone, replacing whatever the backend parsed. A page
// whose call fails or times out is left out and reported.
type Stage struct {
	Model      Model
	Rasterizer ocr.Rasterizer
	Format     ResponseFormat
	// Prompt overrides the default prompt for Format.
	Prompt      string
	DPI         int
	Threads     int
	PageTimeout time.Duration
	// Stats, when set, records every model call.
	Stats *Stats
}

func (s *Stage) Name() string { return "vlm" }

func (s *Stage) Run(ctx context.Context, in enrich.Input) (*doctree.Document, *enrich.Report, error) {
	if s.Model == nil {
		return nil, nil, errs.Newf(errs.KindEnrichmentBackendError, "vlm", "no model configured")
	}
	format := s.Format
	if format == "" {
		format = FormatDocTags
	}
	pages := in.Doc.Pages
	answers := make([]string, len(pages))
	units, err := enrich.RunUnits(ctx, len(pages), s.Threads, s.PageTimeout, func(ctx context.Context, i int) error {
		op := fmt.Sprintf("vlm page %d", pages[i].Number)
		answer, err := s.page(ctx, in, pages[i], format)
		if err != nil {
			return errs.Enrichment(op, err)
		}
		answers[i] = answer
		return nil
	})
	if err != nil {
		return nil, nil, errs.New(errs.KindCancelled, "vlm", err)
	}

	doc := in.Doc.Clone()
	doc.Nodes = doctree.New(doc.Name).Nodes
	report := &enrich.Report{}
	for i, u := range units {
		u.Page = pages[i].Number
		if u.Err == nil {
			if err := AppendResponse(doc, answers[i], format, doc.Page(u.Page)); err != nil {
				u.Err = errs.New(errs.KindEnrichmentBackendError, fmt.Sprintf("vlm page %d", u.Page), err)
			}
		}
		if u.Err != nil {
			in.Log().Warn("vlm page failed", "page", u.Page, "error", u.Err)
		}
		report.Units = append(report.Units, u)
	}
	return doc, report, nil
}

func (s *Stage) page(ctx context.Context, in enrich.Input, page *doctree.Page, format ResponseFormat) (string, error) {
	img := page.Raster
	if len(img) == 0 {
		if s.Rasterizer == nil {
			return "", fmt.Errorf("page %d has no raster and no rasterizer is configured", page.Number)
		}
		var err error
		img, err = s.Rasterizer.Rasterize(ctx, in.Source, page.Number, ocr.RasterOptions{DPI: s.DPI, Password: in.Password})
		if err != nil {
			return "", err
		}
	}
	start := time.Now()
	answer, err := s.Model.Generate(ctx, Request{
		Image:    img,
		MimeType: http.DetectContentType(img),
		Prompt:   PromptFor(format, s.Prompt),
		Format:   format,
		Page:     page.Number,
	})
	if s.Stats != nil {
		s.Stats.Record(time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	answer = CleanResponse(answer)
	if err := ValidateResponse(answer, format); err != nil {
		return "", err
	}
	return answer, nil
}
