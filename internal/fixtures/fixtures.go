// Package fixtures generates small documents of every supported input
// format for tests.
package fixtures

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"
)

// Text inputs.
const (
	Markdown = "# Report\n\nRevenue grew this quarter.\n\n## Details\n\n- north\n- south\n\n| Region | Q1 |\n|---|---|\n| North | 10 |\n"
	AsciiDoc = "= Report\n\nRevenue grew this quarter.\n\n== Details\n\n* north\n* south\n"
	CSV      = "region,q1,q2\nnorth,10,12\nsouth,7,9\n"
	HTML     = "<html><head><title>Report</title></head><body><h1>Report</h1><p>Revenue grew this quarter.</p>" +
		"<table><tr><th>Region</th><th>Q1</th></tr><tr><td>North</td><td>10</td></tr></table></body></html>"
	Text = "Report\n\nRevenue grew this quarter.\n\nCosts stayed flat.\n"
)

// PageWidth and PageHeight are the A4 media box PDF sets on its page tree
// node, so pages inherit it.
const (
	PageWidth  = 595
	PageHeight = 842
)

// PDF builds an unencrypted PDF with one page per entry of pages, each
// holding the given lines of 12pt Courier.
func PDF(pages ...[]string) []byte {
	objs := []string{"<< /Type /Catalog /Pages 2 0 R >>"}
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %d %d] >>",
			strings.Join(kids, " "), len(pages), PageWidth, PageHeight),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding"+
			" /FirstChar 32 /LastChar 126 /Widths ["+strings.TrimSpace(strings.Repeat("600 ", 95))+"] >>",
	)
	for i, lines := range pages {
		var cs strings.Builder
		cs.WriteString("BT /F1 12 Tf 72 770 Td")
		for j, l := range lines {
			if j > 0 {
				cs.WriteString(" 0 -16 Td")
			}
			fmt.Fprintf(&cs, " (%s) Tj", escapePDF(l))
		}
		cs.WriteString(" ET")
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", cs.Len(), cs.String()),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func escapePDF(s string) string {
	return strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(s)
}

// Cipher is a PDF encryption scheme.
type Cipher struct {
	Name   string
	AES    bool
	KeyLen int
}

// Ciphers lists the schemes pdfcpu can write.
var Ciphers = []Cipher{
	{Name: "aes-256", AES: true, KeyLen: 256},
	{Name: "aes-128", AES: true, KeyLen: 128},
	{Name: "rc4-128", KeyLen: 128},
	{Name: "rc4-40", KeyLen: 40},
}

// EncryptPDF encrypts data with c under the given passwords.
func EncryptPDF(data []byte, c Cipher, userPW, ownerPW string) ([]byte, error) {
	var conf *model.Configuration
	if c.AES {
		conf = model.NewAESConfiguration(userPW, ownerPW, c.KeyLen)
	} else {
		conf = model.NewRC4Configuration(userPW, ownerPW, c.KeyLen)
	}
	var out bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(data), &out, conf); err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", c.Name, err)
	}
	return out.Bytes(), nil
}

// DOCX builds a document with a title, a heading, a paragraph and a table.
func DOCX() ([]byte, error) {
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().Style("Title").AddText("Report")
	w.AddParagraph().Style("Heading1").AddText("Details")
	w.AddParagraph().AddText("Revenue grew this quarter.")
	tbl := w.AddTable(2, 2, 0, nil)
	tbl.TableRows[0].TableCells[0].AddParagraph().AddText("Region")
	tbl.TableRows[0].TableCells[1].AddParagraph().AddText("Q1")
	tbl.TableRows[1].TableCells[0].AddParagraph().AddText("North")
	tbl.TableRows[1].TableCells[1].AddParagraph().AddText("10")

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

const pptxNS = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`

// PPTX builds a one-slide deck with a title and two bullets.
func PPTX() ([]byte, error) {
	parts := []struct{ name, body string }{
		{"ppt/presentation.xml", `<p:presentation ` + pptxNS + `><p:sldSz cx="9144000" cy="6858000"/></p:presentation>`},
		{"ppt/slides/slide1.xml", `<p:sld ` + pptxNS + `><p:cSld><p:spTree>
<p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>
<p:txBody><a:p><a:r><a:t>Report</a:t></a:r></a:p></p:txBody></p:sp>
<p:sp><p:nvSpPr><p:nvPr><p:ph idx="1"/></p:nvPr></p:nvSpPr>
<p:txBody><a:p><a:r><a:t>Revenue grew</a:t></a:r></a:p><a:p><a:r><a:t>Costs flat</a:t></a:r></a:p></p:txBody></p:sp>
</p:spTree></p:cSld></p:sld>`},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// XLSX builds a workbook with one small sheet.
func XLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{{"Region", "Q1", "Q2"}, {"North", 10, 12}, {"South", 7, 9}}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// PNG encodes a w x h image with a dark rectangle in the middle.
func PNG(w, h int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.Gray{Y: 255}
			if x > w/4 && x < 3*w/4 && y > h/4 && y < 3*h/4 {
				c = color.Gray{Y: 20}
			}
			img.SetGray(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
