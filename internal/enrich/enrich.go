// Package enrich holds the enrichment stages that run between parsing and
// assembly. A stage never mutates its input document; it returns a patched
// copy, and failures of single units (pages, tables) are reported without
// failing the stage.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docweave/internal/doctree"
)

// Input is what a stage works on.
type Input struct {
	Doc *doctree.Document
	// Source is the original input bytes, used to rasterize PDF pages.
	Source   []byte
	Password string
	Logger   *slog.Logger
}

// Log returns the input's logger or the default one.
func (in Input) Log() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

// Unit is the outcome of one page or table processed by a stage.
type Unit struct {
	Page     int
	Index    int
	Duration time.Duration
	Err      error
}

// Report summarizes one stage run.
type Report struct {
	Units []Unit
}

// Errors returns the failed units' errors in unit order.
func (r *Report) Errors() []error {
	if r == nil {
		return nil
	}
	var out []error
	for _, u := range r.Units {
		if u.Err != nil {
			out = append(out, u.Err)
		}
	}
	return out
}

// Stage is one enrichment step. Run returns the enriched copy of in.Doc.
// A non-nil error means the whole stage failed and in.Doc should be used
// unchanged; per-unit failures are only reported.
type Stage interface {
	Name() string
	Run(ctx context.Context, in Input) (*doctree.Document, *Report, error)
}

// RunUnits calls fn for units 0..n-1 with at most limit in flight, each
// under its own timeout when timeout > 0. It returns one Unit per index,
// in index order. The error is non-nil only when ctx ends first; results
// gathered so far should then be discarded.
func RunUnits(ctx context.Context, n, limit int, timeout time.Duration, fn func(ctx context.Context, i int) error) ([]Unit, error) {
	units := make([]Unit, n)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			uctx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				uctx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}
			start := time.Now()
			err := fn(uctx, i)
			units[i] = Unit{Index: i, Duration: time.Since(start), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

// insertionIndex returns where a body-level node starting at the given
// page and top coordinate belongs among the body's children.
func insertionIndex(doc *doctree.Document, page int, top float64) int {
	children := doc.Root().Children
	for i, id := range children {
		n := doc.Node(id)
		p := n.Page()
		if p == 0 {
			continue
		}
		if p > page {
			return i
		}
		if p == page && len(n.Prov) > 0 && n.Prov[0].BBox != nil && n.Prov[0].BBox.T > top {
			return i
		}
	}
	return len(children)
}
