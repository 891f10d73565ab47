package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

func buildDOCX(t *testing.T) []byte {
	t.Helper()
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().Style("Title").AddText("Report")
	w.AddParagraph().Style("Heading1").AddText("Intro")
	p := w.AddParagraph()
	p.AddText("plain ")
	p.AddText("strong").Bold()
	w.AddParagraph().Style("ListBullet").AddText("item a")
	w.AddParagraph().Style("ListBullet2").AddText("item b")

	tbl := w.AddTable(2, 2, 0, nil)
	tbl.TableRows[0].TableCells[0].AddParagraph().AddText("merged")
	tbl.TableRows[0].TableCells[1].AddParagraph().AddText("top")
	tbl.TableRows[1].TableCells[1].AddParagraph().AddText("bottom")
	tbl.TableRows[0].TableCells[0].TableCellProperties.VMerge = &docx.WvMerge{Val: "restart"}
	tbl.TableRows[1].TableCells[0].TableCellProperties.VMerge = &docx.WvMerge{}
	w.AddParagraph().Style("Caption").AddText("Table 1: numbers")

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("write docx: %v", err)
	}
	return buf.Bytes()
}

func TestDOCXParser_Structure(t *testing.T) {
	doc := mustParse(t, &DOCXParser{}, buildDOCX(t), "report.docx")
	assertOutline(t, doc, []string{
		"title: Report",
		"heading: Intro",
		"  paragraph: plain strong",
		"  list",
		"    list_item: item a",
		"      list",
		"        list_item: item b",
		"  table 2x2",
		"    caption: Table 1: numbers",
	})

	para := firstOf(doc, doctree.LabelParagraph)
	if len(para.Runs) != 2 || !para.Runs[1].Bold {
		t.Errorf("expected a bold second run, got %+v", para.Runs)
	}
}

func TestDOCXParser_VerticalMerge(t *testing.T) {
	doc := mustParse(t, &DOCXParser{}, buildDOCX(t), "report.docx")
	tbl := firstOf(doc, doctree.LabelTable).Table
	grid, err := tbl.Grid()
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if grid[0][0] != grid[1][0] || grid[0][0].Text != "merged" {
		t.Errorf("expected merged cell over two rows, got %+v / %+v", grid[0][0], grid[1][0])
	}
	if len(tbl.Cells) != 3 {
		t.Errorf("expected 3 cells, got %d", len(tbl.Cells))
	}
}

func TestDOCXParser_EncryptedIsAccessDenied(t *testing.T) {
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 512)...)
	_, err := (&DOCXParser{}).Parse(context.Background(), ole, Options{})
	assertKind(t, err, errs.KindAccessDenied)
}

func TestDOCXParser_Corrupt(t *testing.T) {
	_, err := (&DOCXParser{}).Parse(context.Background(), []byte("PK\x03\x04garbage"), Options{})
	assertKind(t, err, errs.KindCorruptInput)
}

func TestDocxHeadingLevel(t *testing.T) {
	tests := map[string]int{"heading1": 1, "heading6": 6, "heading9": 6, "heading": 0, "normal": 0}
	for style, want := range tests {
		if got := docxHeadingLevel(style); got != want {
			t.Errorf("docxHeadingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}
