package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dgallion1/docweave/internal/doctree"
)

// Tesseract runs the tesseract binary with TSV output.
type Tesseract struct {
	Binary    string   // default "tesseract"
	Languages []string // default ["eng"]
	PSM       int      // page segmentation mode, default 3
	// Threads caps tesseract's internal parallelism via OMP_THREAD_LIMIT.
	Threads int
	// MinConfidence drops words below this confidence (0..1).
	MinConfidence float64
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, img []byte) (*Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bin := t.Binary
	if bin == "" {
		bin = "tesseract"
	}
	langs := t.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	psm := t.PSM
	if psm == 0 {
		psm = 3
	}

	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout",
		"-l", strings.Join(langs, "+"),
		"--psm", strconv.Itoa(psm),
		"tsv")
	cmd.Stdin = bytes.NewReader(img)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if t.Threads > 0 {
		cmd.Env = append(os.Environ(), "OMP_THREAD_LIMIT="+strconv.Itoa(t.Threads))
	}
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	words, err := ParseTSV(out, t.MinConfidence)
	if err != nil {
		return nil, err
	}
	return &Result{Width: cfg.Width, Height: cfg.Height, Words: words}, nil
}

// ParseTSV reads tesseract's TSV output, keeping word-level rows (level 5)
// with text and a confidence of at least minConf.
func ParseTSV(data []byte, minConf float64) ([]Word, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "level") {
		return nil, fmt.Errorf("tesseract tsv: missing header")
	}
	var words []Word
	for i, line := range lines[1:] {
		f := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(f) < 12 || f[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(f[11:], "\t"))
		if text == "" {
			continue
		}
		var nums [10]float64
		for k := range nums {
			v, err := strconv.ParseFloat(f[k+1], 64)
			if err != nil {
				return nil, fmt.Errorf("tesseract tsv line %d: %w", i+2, err)
			}
			nums[k] = v
		}
		conf := nums[9] / 100
		if conf < 0 || conf < minConf {
			continue
		}
		left, top, width, height := nums[5], nums[6], nums[7], nums[8]
		words = append(words, Word{
			Text:       text,
			BBox:       doctree.BoundingBox{L: left, T: top, R: left + width, B: top + height},
			Confidence: conf,
			Block:      int(nums[1]),
			Para:       int(nums[2]),
			Line:       int(nums[3]),
		})
	}
	return words, nil
}
