package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// PDFParser handles PDF files. Text comes from the page text layer; pages
// without one are left for the OCR stage.
type PDFParser struct {
	// FallbackPdftotext reads text with the pdftotext binary when the Go
	// reader cannot open the file.
	FallbackPdftotext bool
}

func (p *PDFParser) Name() string             { return "pdf" }
func (p *PDFParser) Formats() []detect.Format { return []detect.Format{detect.FormatPDF} }

// Letter size, used when a page has no usable MediaBox.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

func (p *PDFParser) Parse(ctx context.Context, data []byte, opts Options) (doc *doctree.Document, err error) {
	defer guard("parse pdf", &err)

	data, err = decryptPDF(data, opts.Password)
	if err != nil {
		return nil, err
	}
	r, err := openPDF(data)
	if err != nil {
		if p.FallbackPdftotext && errs.KindOf(err) == errs.KindCorruptInput {
			if doc, ferr := p.parsePdftotext(ctx, data, opts); ferr == nil {
				opts.log().Warn("pdf reader failed, used pdftotext", "file", opts.Filename, "error", err)
				return doc, nil
			}
		}
		return nil, err
	}

	n := r.NumPage()
	if n == 0 {
		return nil, corrupt("parse pdf", errors.New("no pages"))
	}
	if opts.MaxPages > 0 && n > opts.MaxPages {
		return nil, corrupt("parse pdf", fmt.Errorf("%d pages exceeds the limit of %d", n, opts.MaxPages))
	}
	images := pdfImageCounts(data, opts.log())

	var pages []*pdfPage
	for i := 1; i <= n; i++ {
		if err := cancelled(ctx, "parse pdf"); err != nil {
			return nil, err
		}
		pg := r.Page(i)
		if pg.V.IsNull() {
			pages = append(pages, &pdfPage{number: i, width: defaultPageWidth, height: defaultPageHeight})
			continue
		}
		pages = append(pages, readPDFPage(pg, i))
	}

	doc = newDocument(opts, detect.FormatPDF)
	layout := newPDFLayout(pages)
	stack := newSectionStack(doc)
	for _, pp := range pages {
		doc.AddPage(doctree.Page{
			Number:       pp.number,
			Width:        pp.width,
			Height:       pp.height,
			HasTextLayer: len(pp.lines) > 0,
			HasRaster:    images[pp.number] > 0 || len(pp.images) > 0,
			Cells:        pp.cells(),
		})
		layout.emit(doc, stack, pp)
	}
	if !doc.HasContent() {
		return doc, empty("parse pdf")
	}
	return doc, nil
}

func pdfConfig(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.UserPW = password
	conf.OwnerPW = password
	return conf
}

// decryptPDF returns data with its encryption removed. Unencrypted files and
// files pdfcpu cannot read come back unchanged for the text reader to judge.
func decryptPDF(data []byte, password string) ([]byte, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), pdfConfig(password))
	switch {
	case errors.Is(err, pdfcpu.ErrWrongPassword):
		return nil, denied("open pdf", err)
	case err != nil, ctx.Encrypt == nil:
		return data, nil
	}

	conf := pdfConfig(password)
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, conf); err != nil {
		return nil, denied("decrypt pdf", err)
	}
	return out.Bytes(), nil
}

// openPDF opens decrypted data. A file that still carries an encryption
// dictionary here could not be decrypted and is reported as access denied.
func openPDF(data []byte) (*pdflib.Reader, error) {
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, pdflib.ErrInvalidPassword) || hasEncryptDict(data):
		return nil, denied("open pdf", err)
	default:
		return nil, corrupt("open pdf", err)
	}
}

func hasEncryptDict(data []byte) bool {
	return bytes.Contains(data, []byte("/Encrypt"))
}

// pdfImageCounts returns the number of image objects per page. Validation
// problems are logged and otherwise ignored; the text reader decides whether
// the file is usable.
func pdfImageCounts(data []byte, log *slog.Logger) (counts map[int]int) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("pdf image scan panicked", "panic", r)
			counts = nil
		}
	}()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), pdfConfig(""))
	if err != nil {
		log.Warn("pdf validation", "error", err)
		return nil
	}
	counts = make(map[int]int, ctx.PageCount)
	if ctx.Optimize == nil {
		return counts
	}
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		counts[pageNr] = len(pdfcpu.ImageObjNrs(ctx, pageNr))
	}
	return counts
}

func readPDFPage(pg pdflib.Page, number int) *pdfPage {
	pp := &pdfPage{number: number, width: defaultPageWidth, height: defaultPageHeight}
	if box := inherited(pg.V, "MediaBox"); box.Len() == 4 {
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w > 0 && h > 0 {
			pp.width, pp.height = w, h
		}
	}
	pp.lines = groupLines(pg.Content().Text, pp.height)

	xobj := pg.Resources().Key("XObject")
	for _, k := range xobj.Keys() {
		x := xobj.Key(k)
		if x.Key("Subtype").Name() != "Image" {
			continue
		}
		pp.images = append(pp.images, &doctree.ImageRef{
			MimeType: filterMimeType(x.Key("Filter").Name()),
			Width:    int(x.Key("Width").Int64()),
			Height:   int(x.Key("Height").Int64()),
		})
	}
	return pp
}

// inherited looks key up on a page dictionary and then its ancestors in
// the page tree.
func inherited(v pdflib.Value, key string) pdflib.Value {
	for ; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
	}
	return pdflib.Value{}
}

func filterMimeType(filter string) string {
	switch filter {
	case "DCTDecode":
		return "image/jpeg"
	case "JPXDecode":
		return "image/jp2"
	case "CCITTFaxDecode", "JBIG2Decode":
		return "image/tiff"
	}
	return ""
}

func (p *PDFParser) parsePdftotext(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}

	doc := newDocument(opts, detect.FormatPDF)
	for i, text := range strings.Split(string(out), "\f") {
		paragraphs, err := splitParagraphs(text)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" && i > 0 {
			continue
		}
		doc.AddPage(doctree.Page{Number: i + 1, Width: defaultPageWidth, Height: defaultPageHeight, HasTextLayer: true})
		for _, para := range paragraphs {
			doc.AddText(doctree.RootID, doctree.LabelParagraph, collapseSpace(para),
				doctree.ProvenanceItem{Page: i + 1, Source: "pdftotext"})
		}
	}
	if !doc.HasContent() {
		return nil, errors.New("pdftotext: no text")
	}
	return doc, nil
}
