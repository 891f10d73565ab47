package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Pdftoppm renders PDF pages with poppler's pdftoppm.
type Pdftoppm struct {
	Binary string // default "pdftoppm"
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte, page int, opts RasterOptions) ([]byte, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 150
	}

	dir, err := os.MkdirTemp("", "docweave-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	args := []string{"-f", n, "-l", n, "-png", "-r", strconv.Itoa(dpi), "-singlefile"}
	if opts.Password != "" {
		args = append(args, "-upw", opts.Password)
	}
	args = append(args, in, prefix)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return img, nil
}
