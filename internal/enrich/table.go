package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// TableRegion is a detected table handed to a TableModel.
type TableRegion struct {
	Page int
	BBox doctree.BoundingBox
	// Cells are the page's text cells inside the region.
	Cells []doctree.TextCell
	// Current is the table as the backend parsed it.
	Current *doctree.TableData
}

// StructCell is one cell predicted by a table model. Text may be empty
// when the model only predicts geometry.
type StructCell struct {
	Row, Col         int
	RowSpan, ColSpan int
	BBox             *doctree.BoundingBox
	Text             string
	ColumnHeader     bool
	RowHeader        bool
}

// TableStructure is a model's predicted grid.
type TableStructure struct {
	NumRows, NumCols int
	Cells            []StructCell
}

// TableModel recovers a table's cell grid from its region.
type TableModel interface {
	Name() string
	Predict(ctx context.Context, region TableRegion) (*TableStructure, error)
}

// TableStage rebuilds table nodes of layout documents from a TableModel's
// prediction.
type TableStage struct {
	Model TableModel
	// DoCellMatching fills each predicted cell with the text-layer cells
	// it covers, preferring them over the model's own text.
	DoCellMatching bool
	Threads        int
	Timeout        time.Duration
}

func (s *TableStage) Name() string { return "table_structure" }

func (s *TableStage) Run(ctx context.Context, in Input) (*doctree.Document, *Report, error) {
	if s.Model == nil {
		return nil, nil, errs.Newf(errs.KindEnrichmentBackendError, "table structure", "no table model configured")
	}
	var (
		tables  []*doctree.Node
		regions []TableRegion
	)
	in.Doc.Walk(func(n *doctree.Node, _ int) error {
		if n.Label != doctree.LabelTable || n.Table == nil || len(n.Prov) == 0 || n.Prov[0].BBox == nil {
			return nil
		}
		page := in.Doc.Page(n.Prov[0].Page)
		if page == nil {
			return nil
		}
		bbox := *n.Prov[0].BBox
		tables = append(tables, n)
		regions = append(regions, TableRegion{
			Page:    page.Number,
			BBox:    bbox,
			Cells:   cellsIn(page.Cells, bbox),
			Current: n.Table,
		})
		return nil
	})
	report := &Report{}
	if len(tables) == 0 {
		return in.Doc, report, nil
	}

	built := make([]*doctree.TableData, len(tables))
	units, err := RunUnits(ctx, len(tables), s.Threads, s.Timeout, func(ctx context.Context, i int) error {
		op := fmt.Sprintf("table structure page %d", regions[i].Page)
		st, err := s.Model.Predict(ctx, regions[i])
		if err != nil {
			return errs.Enrichment(op, err)
		}
		t, err := s.build(st, regions[i])
		if err != nil {
			return errs.New(errs.KindEnrichmentBackendError, op, err)
		}
		built[i] = t
		return nil
	})
	if err != nil {
		return nil, nil, errs.New(errs.KindCancelled, "table structure", err)
	}

	doc := in.Doc.Clone()
	for i, u := range units {
		u.Page = regions[i].Page
		report.Units = append(report.Units, u)
		if u.Err != nil {
			in.Log().Warn("table structure failed", "page", u.Page, "error", u.Err)
			continue
		}
		doc.Node(tables[i].ID).Table = built[i]
	}
	return doc, report, nil
}

// build turns a prediction into table data, matching text-layer cells
// when enabled. An invalid grid is an error and leaves the table as is.
func (s *TableStage) build(st *TableStructure, region TableRegion) (*doctree.TableData, error) {
	if st == nil || st.NumRows <= 0 || st.NumCols <= 0 {
		return nil, fmt.Errorf("empty prediction")
	}
	t := &doctree.TableData{NumRows: st.NumRows, NumCols: st.NumCols}
	for _, c := range st.Cells {
		text := c.Text
		if s.DoCellMatching && c.BBox != nil {
			if matched := matchCellText(region.Cells, *c.BBox); matched != "" {
				text = matched
			}
		}
		var bbox *doctree.BoundingBox
		if c.BBox != nil {
			b := *c.BBox
			bbox = &b
		}
		t.Cells = append(t.Cells, doctree.TableCell{
			Text:         strings.TrimSpace(text),
			Row:          c.Row,
			Col:          c.Col,
			RowSpan:      max(c.RowSpan, 1),
			ColSpan:      max(c.ColSpan, 1),
			ColumnHeader: c.ColumnHeader,
			RowHeader:    c.RowHeader,
			BBox:         bbox,
		})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// cellsIn returns the text cells mostly inside region.
func cellsIn(cells []doctree.TextCell, region doctree.BoundingBox) []doctree.TextCell {
	var out []doctree.TextCell
	for _, c := range cells {
		if c.BBox.Coverage(region) >= 0.5 {
			out = append(out, c)
		}
	}
	return out
}

// matchCellText joins, in reading order, the text cells whose centre lies
// inside box.
func matchCellText(cells []doctree.TextCell, box doctree.BoundingBox) string {
	var hit []doctree.TextCell
	for _, c := range cells {
		cx, cy := (c.BBox.L+c.BBox.R)/2, (c.BBox.T+c.BBox.B)/2
		if cx >= box.L && cx <= box.R && cy >= box.T && cy <= box.B {
			hit = append(hit, c)
		}
	}
	sort.SliceStable(hit, func(i, j int) bool {
		if hit[i].BBox.T != hit[j].BBox.T {
			return hit[i].BBox.T < hit[j].BBox.T
		}
		return hit[i].BBox.L < hit[j].BBox.L
	})
	parts := make([]string, len(hit))
	for i, c := range hit {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}
