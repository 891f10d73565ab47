package enrich

import (
	"context"
	"sort"
	"strings"

	"github.com/dgallion1/docweave/internal/doctree"
)

// GridModel is a geometric TableModel. It derives rows and columns from
// the alignment of the text cells inside the region; a cell crossing
// several column or row bands becomes a spanning cell.
type GridModel struct{}

func (GridModel) Name() string { return "grid" }

func (GridModel) Predict(ctx context.Context, region TableRegion) (*TableStructure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(region.Cells) == 0 {
		return fromTable(region.Current), nil
	}
	cols := bands(region.Cells, func(b doctree.BoundingBox) (float64, float64) { return b.L, b.R })
	rows := bands(region.Cells, func(b doctree.BoundingBox) (float64, float64) { return b.T, b.B })

	type key struct{ r, c int }
	byPos := make(map[key]*StructCell)
	var order []key
	for _, tc := range region.Cells {
		c0, cn := cover(cols, tc.BBox.L, tc.BBox.R)
		r0, rn := cover(rows, tc.BBox.T, tc.BBox.B)
		k := key{r0, c0}
		if sc, ok := byPos[k]; ok {
			sc.Text += " " + tc.Text
			u := sc.BBox.Union(tc.BBox)
			sc.BBox = &u
			sc.ColSpan = max(sc.ColSpan, cn)
			sc.RowSpan = max(sc.RowSpan, rn)
			continue
		}
		b := tc.BBox
		byPos[k] = &StructCell{Row: r0, Col: c0, RowSpan: rn, ColSpan: cn, BBox: &b, Text: tc.Text}
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].r != order[j].r {
			return order[i].r < order[j].r
		}
		return order[i].c < order[j].c
	})

	st := &TableStructure{NumRows: len(rows), NumCols: len(cols)}
	taken := make([][]bool, len(rows))
	for r := range taken {
		taken[r] = make([]bool, len(cols))
	}
	for _, k := range order {
		sc := byPos[k]
		// Shrink spans that would run into an earlier cell.
		for cs := 1; cs < sc.ColSpan; cs++ {
			if taken[sc.Row][sc.Col+cs] {
				sc.ColSpan = cs
				break
			}
		}
		for rs := 1; rs < sc.RowSpan; rs++ {
			if taken[sc.Row+rs][sc.Col] {
				sc.RowSpan = rs
				break
			}
		}
		if taken[sc.Row][sc.Col] {
			continue
		}
		for r := sc.Row; r < sc.Row+sc.RowSpan; r++ {
			for c := sc.Col; c < sc.Col+sc.ColSpan; c++ {
				taken[r][c] = true
			}
		}
		sc.Text = strings.TrimSpace(sc.Text)
		sc.ColumnHeader = sc.Row == 0 && len(rows) > 1
		st.Cells = append(st.Cells, *sc)
	}
	return st, nil
}

type band struct{ lo, hi float64 }

// bands clusters the cells' extents along one axis. Narrow cells are
// placed first so that a wide cell overlapping two bands spans them
// instead of fusing them.
func bands(cells []doctree.TextCell, extent func(doctree.BoundingBox) (float64, float64)) []band {
	idx := make([]int, len(cells))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		la, ha := extent(cells[idx[a]].BBox)
		lb, hb := extent(cells[idx[b]].BBox)
		return ha-la < hb-lb
	})
	var out []band
	for _, i := range idx {
		lo, hi := extent(cells[i].BBox)
		var hits []int
		for k, b := range out {
			if lo < b.hi && hi > b.lo {
				hits = append(hits, k)
			}
		}
		switch len(hits) {
		case 0:
			out = append(out, band{lo, hi})
		case 1:
			out[hits[0]].lo = min(out[hits[0]].lo, lo)
			out[hits[0]].hi = max(out[hits[0]].hi, hi)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].lo < out[b].lo })
	return out
}

// cover returns the first band overlapping [lo,hi] and how many
// consecutive bands it overlaps.
func cover(bs []band, lo, hi float64) (first, n int) {
	first = -1
	for k, b := range bs {
		if lo < b.hi && hi > b.lo {
			if first < 0 {
				first = k
			}
			n = k - first + 1
		}
	}
	if first < 0 {
		// Degenerate box; use the nearest band.
		first, n = 0, 1
		for k, b := range bs {
			if b.lo <= lo {
				first = k
			}
		}
	}
	return first, n
}

// fromTable restates a parsed table as a prediction, for regions with no
// positioned text.
func fromTable(t *doctree.TableData) *TableStructure {
	if t == nil {
		return nil
	}
	st := &TableStructure{NumRows: t.NumRows, NumCols: t.NumCols}
	for _, c := range t.Cells {
		st.Cells = append(st.Cells, StructCell{
			Row: c.Row, Col: c.Col, RowSpan: c.RowSpan, ColSpan: c.ColSpan,
			BBox: c.BBox, Text: c.Text, ColumnHeader: c.ColumnHeader, RowHeader: c.RowHeader,
		})
	}
	return st
}
