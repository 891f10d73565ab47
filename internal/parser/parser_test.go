package parser

import (
	"testing"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
)

func TestRegistry_For(t *testing.T) {
	r := DefaultRegistry()
	b, err := r.For(detect.FormatPDF, "")
	if err != nil || b.Name() != "pdf" {
		t.Fatalf("expected pdf backend, got %v, %v", b, err)
	}
	if _, err := r.For(detect.FormatPDF, "nope"); errs.KindOf(err) != errs.KindInvalidConfig {
		t.Errorf("expected invalid config, got %v", err)
	}
	if _, err := NewRegistry().For(detect.FormatCSV, ""); errs.KindOf(err) != errs.KindUnsupportedFormat {
		t.Errorf("expected unsupported format, got %v", err)
	}
	if got := len(r.Formats()); got != len(detect.AllFormats) {
		t.Errorf("expected every format covered, got %d of %d", got, len(detect.AllFormats))
	}
}

func TestMergeRuns(t *testing.T) {
	runs := mergeRuns(nil)
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %v", runs)
	}
	if got := collapseSpace("  a \n\t b  "); got != "a b" {
		t.Errorf("collapseSpace: %q", got)
	}
}
