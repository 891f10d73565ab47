package parser

import (
	"bytes"
	"context"

	"github.com/xuri/excelize/v2"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// XLSXParser handles Excel workbooks. Each non-empty sheet becomes a
// heading followed by one table, with merged ranges kept as spans.
type XLSXParser struct{}

func (p *XLSXParser) Name() string             { return "xlsx" }
func (p *XLSXParser) Formats() []detect.Format { return []detect.Format{detect.FormatXLSX} }

func (p *XLSXParser) Parse(ctx context.Context, data []byte, opts Options) (doc *doctree.Document, err error) {
	defer guard("parse xlsx", &err)

	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{Password: opts.Password})
	if err != nil {
		if detect.IsOLE(data) {
			return nil, denied("parse xlsx", err)
		}
		return nil, corrupt("parse xlsx", err)
	}
	defer f.Close()

	doc = newDocument(opts, detect.FormatXLSX)
	for i, sheet := range f.GetSheetList() {
		if err := cancelled(ctx, "parse xlsx"); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			opts.log().Warn("xlsx sheet unreadable", "sheet", sheet, "error", err)
			continue
		}
		rows = trimEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		prov := doctree.ProvenanceItem{Page: i + 1, Source: "xlsx"}
		heading := doc.AddHeading(doctree.RootID, sheet, 1, prov)

		t := doctree.NewTable(rows, 1)
		merges, err := f.GetMergeCells(sheet)
		if err != nil {
			opts.log().Warn("xlsx merged cells unreadable", "sheet", sheet, "error", err)
		}
		applyMerges(t, merges)
		doc.AddTable(heading, t, prov)
	}
	if !doc.HasContent() {
		return doc, empty("parse xlsx")
	}
	return doc, nil
}

// applyMerges replaces the cells covered by each merged range with a single
// spanning cell anchored at its top-left corner.
func applyMerges(t *doctree.TableData, merges []excelize.MergeCell) {
	for _, m := range merges {
		c0, r0, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		c1, r1, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			continue
		}
		// Coordinates are 1-based.
		r0, c0, r1, c1 = r0-1, c0-1, min(r1, t.NumRows)-1, min(c1, t.NumCols)-1
		if r0 >= t.NumRows || c0 >= t.NumCols || r1 < r0 || c1 < c0 {
			continue
		}
		kept := t.Cells[:0]
		for _, cell := range t.Cells {
			inside := cell.Row >= r0 && cell.Row <= r1 && cell.Col >= c0 && cell.Col <= c1
			if !inside {
				kept = append(kept, cell)
				continue
			}
			if cell.Row == r0 && cell.Col == c0 {
				cell.RowSpan = r1 - r0 + 1
				cell.ColSpan = c1 - c0 + 1
				if v := m.GetCellValue(); v != "" {
					cell.Text = v
				}
				kept = append(kept, cell)
			}
		}
		t.Cells = kept
	}
}

// trimEmptyRows drops trailing blank rows. Leading rows are kept so cell
// coordinates still match merge ranges.
func trimEmptyRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && rowEmpty(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
