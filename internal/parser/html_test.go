package parser

import (
	"testing"

	"github.com/dgallion1/docweave/internal/doctree"
)

const sampleHTML = `<html><head><title>Doc T</title><style>x{}</style></head><body>
<nav>menu</nav>
<h1>Main</h1>
<p>Hello <b>world</b> <a href="/x">link</a></p>
<ul><li>one</li><li>two<ul><li>deep</li></ul></li></ul>
<table><caption>Tbl</caption><tr><th>A</th><th>B</th></tr><tr><td colspan="2">wide</td></tr></table>
<figure><img src="a.png" alt="alt"><figcaption>Fig cap</figcaption></figure>
<pre><code class="language-go">x := 1</code></pre>
<script>var ignored = 1;</script>
</body></html>`

func TestHTMLParser_Structure(t *testing.T) {
	doc := mustParse(t, &HTMLParser{}, []byte(sampleHTML), "page.html")
	assertOutline(t, doc, []string{
		"title: Doc T",
		"heading: Main",
		"  paragraph: Hello world link",
		"  list",
		"    list_item: one",
		"    list_item: two",
		"      list",
		"        list_item: deep",
		"  table 2x2",
		"    caption: Tbl",
		"  figure",
		"    caption: Fig cap",
		"  code: x := 1",
	})
	if lang := firstOf(doc, doctree.LabelCode).Language; lang != "go" {
		t.Errorf("expected language go, got %q", lang)
	}
}

func TestHTMLParser_TableSpans(t *testing.T) {
	input := `<table>
<thead><tr><th>Region</th><th>Q1</th><th>Q2</th></tr></thead>
<tbody>
<tr><th rowspan="2">North</th><td>1</td><td>2</td></tr>
<tr><td colspan="2">3</td></tr>
</tbody></table>`
	doc := mustParse(t, &HTMLParser{}, []byte(input), "t.html")
	tbl := firstOf(doc, doctree.LabelTable).Table
	if tbl.NumRows != 3 || tbl.NumCols != 3 {
		t.Fatalf("expected 3x3, got %dx%d", tbl.NumRows, tbl.NumCols)
	}
	grid, err := tbl.Grid()
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if grid[2][0].Text != "North" || grid[2][0].RowSpan != 2 {
		t.Errorf("expected North spanning two rows, got %+v", grid[2][0])
	}
	if grid[2][1].Text != "3" || grid[2][2] != grid[2][1] {
		t.Errorf("expected 3 spanning two columns, got %+v", grid[2][1])
	}
	if !grid[1][0].RowHeader || grid[1][0].ColumnHeader {
		t.Errorf("expected row header, got %+v", grid[1][0])
	}
	if tbl.HeaderRows() != 1 {
		t.Errorf("expected 1 header row, got %d", tbl.HeaderRows())
	}
}

func TestHTMLParser_LooseTextBecomesParagraphs(t *testing.T) {
	doc := mustParse(t, &HTMLParser{}, []byte(`<div>loose <i>text</i><p>para</p>tail</div>`), "x.html")
	assertOutline(t, doc, []string{
		"paragraph: loose text",
		"paragraph: para",
		"paragraph: tail",
	})
}

func TestHTMLParser_ColspanIntoRowspan(t *testing.T) {
	input := `<table><tr><td>A</td><td rowspan="2">B</td></tr><tr><td colspan="2">X</td></tr></table>`
	doc := mustParse(t, &HTMLParser{}, []byte(input), "t.html")
	rows, err := firstOf(doc, doctree.LabelTable).Table.Rows()
	if err != nil {
		t.Fatal(err)
	}
	if rows[1][0] != "X" || rows[1][1] != "B" {
		t.Errorf("expected X clipped before B, got %v", rows)
	}
}
