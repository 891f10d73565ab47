package doctree

import (
	"fmt"
	"strings"
)

// TableCell is one cell of a table grid. Row and Col address the top-left
// grid position the cell occupies.
type TableCell struct {
	Text         string       `json:"text"`
	Row          int          `json:"row"`
	Col          int          `json:"col"`
	RowSpan      int          `json:"row_span"`
	ColSpan      int          `json:"col_span"`
	ColumnHeader bool         `json:"column_header,omitempty"`
	RowHeader    bool         `json:"row_header,omitempty"`
	BBox         *BoundingBox `json:"bbox,omitempty"`
}

// TableData is the cell grid of a table node.
type TableData struct {
	NumRows int         `json:"num_rows"`
	NumCols int         `json:"num_cols"`
	Cells   []TableCell `json:"cells"`
}

// NewTable builds a grid of 1x1 cells from rows of text. The first
// headerRows rows are marked as column headers. Short rows are padded with
// empty cells.
func NewTable(rows [][]string, headerRows int) *TableData {
	t := &TableData{NumRows: len(rows)}
	for _, r := range rows {
		t.NumCols = max(t.NumCols, len(r))
	}
	for i, r := range rows {
		for j := 0; j < t.NumCols; j++ {
			var text string
			if j < len(r) {
				text = r[j]
			}
			t.Cells = append(t.Cells, TableCell{
				Text:         text,
				Row:          i,
				Col:          j,
				RowSpan:      1,
				ColSpan:      1,
				ColumnHeader: i < headerRows,
			})
		}
	}
	return t
}

// Grid returns the occupancy grid: grid[r][c] points at the cell covering
// that position, or nil. Every position a spanning cell covers points at
// the same cell.
func (t *TableData) Grid() ([][]*TableCell, error) {
	grid := make([][]*TableCell, t.NumRows)
	for r := range grid {
		grid[r] = make([]*TableCell, t.NumCols)
	}
	for i := range t.Cells {
		c := &t.Cells[i]
		rs, cs := max(c.RowSpan, 1), max(c.ColSpan, 1)
		if c.Row < 0 || c.Col < 0 || c.Row+rs > t.NumRows || c.Col+cs > t.NumCols {
			return nil, fmt.Errorf("%w: cell %d at (%d,%d) span %dx%d in %dx%d grid",
				ErrSpanOutOfBounds, i, c.Row, c.Col, rs, cs, t.NumRows, t.NumCols)
		}
		for r := c.Row; r < c.Row+rs; r++ {
			for col := c.Col; col < c.Col+cs; col++ {
				if grid[r][col] != nil {
					return nil, fmt.Errorf("%w: (%d,%d) claimed twice", ErrOverlappingSpan, r, col)
				}
				grid[r][col] = c
			}
		}
	}
	return grid, nil
}

// Validate checks that spans stay in bounds and never overlap.
func (t *TableData) Validate() error {
	_, err := t.Grid()
	return err
}

// Repair makes the grid valid. Spans are clipped where they leave the grid
// or run into a cell listed earlier. A cell whose top-left position is out
// of bounds is dropped; one whose position is already covered is dropped
// and its text appended to the covering cell. It reports whether anything
// changed.
func (t *TableData) Repair() bool {
	owner := make([][]int, t.NumRows)
	for r := range owner {
		owner[r] = make([]int, t.NumCols)
		for c := range owner[r] {
			owner[r][c] = -1
		}
	}
	free := func(r, c int) bool { return owner[r][c] < 0 }

	changed := false
	kept := make([]TableCell, 0, len(t.Cells))
	for _, cell := range t.Cells {
		if cell.Row < 0 || cell.Col < 0 || cell.Row >= t.NumRows || cell.Col >= t.NumCols {
			changed = true
			continue
		}
		if o := owner[cell.Row][cell.Col]; o >= 0 {
			if text := strings.TrimSpace(cell.Text); text != "" {
				kept[o].Text = strings.TrimSpace(kept[o].Text + " " + text)
			}
			changed = true
			continue
		}
		rs, cs := max(cell.RowSpan, 1), max(cell.ColSpan, 1)
		ncs := 1
		for ncs < cs && cell.Col+ncs < t.NumCols && free(cell.Row, cell.Col+ncs) {
			ncs++
		}
		nrs := 1
	rows:
		for nrs < rs && cell.Row+nrs < t.NumRows {
			for c := cell.Col; c < cell.Col+ncs; c++ {
				if !free(cell.Row+nrs, c) {
					break rows
				}
			}
			nrs++
		}
		if nrs != rs || ncs != cs {
			changed = true
		}
		cell.RowSpan, cell.ColSpan = nrs, ncs
		for r := cell.Row; r < cell.Row+nrs; r++ {
			for c := cell.Col; c < cell.Col+ncs; c++ {
				owner[r][c] = len(kept)
			}
		}
		kept = append(kept, cell)
	}
	t.Cells = kept
	return changed
}

// Rows returns the table as rows of text, repeating a spanning cell's text
// in every position it covers.
func (t *TableData) Rows() ([][]string, error) {
	grid, err := t.Grid()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(grid))
	for r, line := range grid {
		rows[r] = make([]string, len(line))
		for c, cell := range line {
			if cell != nil {
				rows[r][c] = cell.Text
			}
		}
	}
	return rows, nil
}

// HeaderRows returns how many leading rows consist only of column headers.
func (t *TableData) HeaderRows() int {
	grid, err := t.Grid()
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range grid {
		for _, cell := range line {
			if cell == nil || !cell.ColumnHeader {
				return n
			}
		}
		n++
	}
	return n
}

// Clone returns a deep copy.
func (t *TableData) Clone() *TableData {
	c := &TableData{NumRows: t.NumRows, NumCols: t.NumCols, Cells: make([]TableCell, len(t.Cells))}
	for i, cell := range t.Cells {
		c.Cells[i] = cell
		if cell.BBox != nil {
			bb := *cell.BBox
			c.Cells[i].BBox = &bb
		}
	}
	return c
}
