package parser

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

func TestImageParser_SinglePage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatal(err)
	}
	doc := mustParse(t, &ImageParser{}, buf.Bytes(), "scan.png")
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	page := doc.Pages[0]
	if page.Width != 40 || page.Height != 30 || !page.HasRaster || page.HasTextLayer {
		t.Errorf("unexpected page %+v", page)
	}
	if len(page.Raster) == 0 {
		t.Error("expected raster bytes on the page")
	}
	fig := firstOf(doc, doctree.LabelFigure)
	if fig == nil || fig.Image.MimeType != "image/png" {
		t.Fatalf("expected png figure, got %+v", fig)
	}
}

func TestImageParser_Corrupt(t *testing.T) {
	_, err := (&ImageParser{}).Parse(context.Background(), []byte("\x89PNG\r\n\x1a\nbroken"), Options{})
	assertKind(t, err, errs.KindCorruptInput)
}
