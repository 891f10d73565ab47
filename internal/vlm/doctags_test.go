package vlm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docweave/internal/doctree"
)

func outline(doc *doctree.Document) string {
	var lines []string
	doc.Walk(func(n *doctree.Node, depth int) error {
		line := strings.Repeat("  ", depth) + string(n.Label)
		if t := n.Text(); t != "" {
			line += ": " + t
		}
		if n.Table != nil {
			line += fmt.Sprintf(" %dx%d", n.Table.NumRows, n.Table.NumCols)
		}
		lines = append(lines, line)
		return nil
	})
	return strings.Join(lines, "\n")
}

const samplePage = `<doctag><page_header><loc_10><loc_5><loc_200><loc_15>ACME Report</page_header>
<section_header_level_1><loc_50><loc_40><loc_450><loc_60>Results</section_header_level_1>
<text><loc_50><loc_70><loc_450><loc_100>Sales grew
in every region.</text>
<unordered_list><list_item><loc_60><loc_110><loc_400><loc_120>North</list_item><list_item><loc_60><loc_120><loc_400><loc_130>South</list_item></unordered_list>
<otsl><loc_50><loc_150><loc_450><loc_250><ched>Region<ched>Q1<nl><fcel>North<fcel>10<nl><caption><loc_50><loc_255><loc_450><loc_265>Table 1</caption></otsl>
<picture><loc_50><loc_300><loc_450><loc_400><caption><loc_50><loc_405><loc_450><loc_415>Figure 1: trend</caption></picture>
<code><loc_50><loc_420><loc_450><loc_440><_Python_>print(1)</code>
</doctag>`

func TestAppendDocTags_Structure(t *testing.T) {
	doc := doctree.New("page")
	page := doc.AddPage(doctree.Page{Number: 1, Width: 1000, Height: 500})
	AppendDocTags(doc, samplePage, page)
	if err := doc.Validate(); err != nil {
		t.Fatalf("invalid tree: %v", err)
	}

	want := strings.Join([]string{
		"page_header: ACME Report",
		"heading: Results",
		"  paragraph: Sales grew in every region.",
		"  list",
		"    list_item: North",
		"    list_item: South",
		"  table 2x2",
		"    caption: Table 1",
		"  figure",
		"    caption: Figure 1: trend",
		"  code: print(1)",
	}, "\n")
	if got := outline(doc); got != want {
		t.Fatalf("outline mismatch\n got:\n%s\nwant:\n%s", got, want)
	}

	var heading, code *doctree.Node
	doc.Walk(func(n *doctree.Node, _ int) error {
		switch n.Label {
		case doctree.LabelHeading:
			heading = n
		case doctree.LabelCode:
			code = n
		}
		return nil
	})
	if b := heading.Prov[0].BBox; b == nil || b.L != 100 || b.T != 40 || b.R != 900 || b.B != 60 {
		t.Errorf("expected scaled bbox, got %+v", b)
	}
	if heading.Prov[0].Source != "vlm" || heading.Prov[0].Page != 1 {
		t.Errorf("unexpected provenance %+v", heading.Prov[0])
	}
	if code.Language != "python" {
		t.Errorf("expected python, got %q", code.Language)
	}
}

func TestOTSLTable_Spans(t *testing.T) {
	doc := doctree.New("t")
	AppendDocTags(doc, "<otsl><ched>Span<lcel><ched>C<nl><fcel>a<fcel>b<ucel><nl><fcel>x<lcel><ucel><nl></otsl>", nil)
	var tbl *doctree.TableData
	doc.Walk(func(n *doctree.Node, _ int) error {
		if n.Table != nil {
			tbl = n.Table
		}
		return nil
	})
	if tbl == nil {
		t.Fatal("expected a table")
	}
	grid, err := tbl.Grid()
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if grid[0][0].Text != "Span" || grid[0][0].ColSpan != 2 || !grid[0][0].ColumnHeader {
		t.Errorf("expected header spanning two columns, got %+v", grid[0][0])
	}
	if grid[2][2] != grid[0][2] || grid[0][2].RowSpan != 3 {
		t.Errorf("expected C to span three rows, got %+v", grid[0][2])
	}
	if grid[2][1] != grid[2][0] || grid[2][0].Text != "x" {
		t.Errorf("expected x to span two columns, got %+v", grid[2][0])
	}
}

func TestOTSLTable_InconsistentSpansFallBack(t *testing.T) {
	// A's span grows into B's position.
	tbl := otslTable([][]*otslCell{
		{{kind: "fcel"}, {kind: "lcel"}},
		{{kind: "fcel"}, {kind: "ucel"}},
	})
	if err := tbl.Validate(); err != nil {
		t.Fatalf("fallback must be valid: %v", err)
	}
	if len(tbl.Cells) != 4 || tbl.NumCols != 2 {
		t.Errorf("expected a plain 2x2 grid, got %d cells in %d cols", len(tbl.Cells), tbl.NumCols)
	}
}
