package parser

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// ImageParser handles raster images. The image becomes a single page with
// no text layer and one page-sized figure; text comes from the OCR stage.
type ImageParser struct{}

func (p *ImageParser) Name() string             { return "image" }
func (p *ImageParser) Formats() []detect.Format { return []detect.Format{detect.FormatImage} }

func (p *ImageParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	cfg, kind, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("parse image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, corrupt("parse image", errEmptyImage)
	}
	if err := cancelled(ctx, "parse image"); err != nil {
		return nil, err
	}

	doc := newDocument(opts, detect.FormatImage)
	mimeType, ok := detect.ImageMimeType(data)
	if !ok {
		mimeType = "image/" + kind
	}
	doc.Origin.MimeType = mimeType

	w, h := float64(cfg.Width), float64(cfg.Height)
	doc.AddPage(doctree.Page{
		Number:    1,
		Width:     w,
		Height:    h,
		HasRaster: true,
		Raster:    data,
	})
	bbox := doctree.BoundingBox{L: 0, T: 0, R: w, B: h}
	doc.AddFigure(doctree.RootID, &doctree.ImageRef{
		MimeType: mimeType,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, doctree.ProvenanceItem{Page: 1, BBox: &bbox, Source: "image"})
	return doc, nil
}

var errEmptyImage = errors.New("image has no pixels")
