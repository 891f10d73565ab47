package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/export"
	"github.com/dgallion1/docweave/internal/fixtures"
	"github.com/dgallion1/docweave/internal/ocr"
	"github.com/dgallion1/docweave/internal/vlm"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Accelerator = Accelerator{Device: DeviceCPU, Threads: 2}
	return opts
}

func newTestConverter(t *testing.T, opts Options, deps Deps) *Converter {
	t.Helper()
	c, err := NewConverter(opts, deps, nil)
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	return c
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func labels(doc *doctree.Document) []doctree.Label {
	var out []doctree.Label
	doc.Walk(func(n *doctree.Node, _ int) error {
		out = append(out, n.Label)
		return nil
	})
	return out
}

const sampleMarkdown = "# Title\n\nFirst paragraph.\n\n## Part\n\n- one\n- two\n"

func TestConvert_Markdown(t *testing.T) {
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("notes.md", []byte(sampleMarkdown)))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Status != StatusSuccess || res.State != StateDone {
		t.Fatalf("expected success/done, got %s/%s: %v", res.Status, res.State, res.Errors)
	}
	if res.Input.Detection.Format != detect.FormatMarkdown || res.Input.Pipeline != KindSimple {
		t.Errorf("unexpected input %+v", res.Input)
	}
	if res.Document.Origin.Hash != ContentHashHex([]byte(sampleMarkdown)) {
		t.Error("expected the content hash on the document origin")
	}
	if res.ID == "" {
		t.Error("expected a conversion id")
	}
	stages := map[string]bool{}
	for _, tm := range res.Timings {
		stages[tm.Stage] = true
	}
	for _, s := range []string{"detecting", "parsing", "assembling"} {
		if !stages[s] {
			t.Errorf("missing timing for %s", s)
		}
	}
}

func fixture(t *testing.T, build func() ([]byte, error)) []byte {
	t.Helper()
	data, err := build()
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	return data
}

func TestConvert_DeterministicMarkdown(t *testing.T) {
	tests := []struct {
		name   string
		format detect.Format
		data   []byte
	}{
		{"report.pdf", detect.FormatPDF, fixtures.PDF([]string{"Report", "Revenue grew this quarter."}, []string{"Costs stayed flat."})},
		{"report.docx", detect.FormatDOCX, fixture(t, fixtures.DOCX)},
		{"deck.pptx", detect.FormatPPTX, fixture(t, fixtures.PPTX)},
		{"book.xlsx", detect.FormatXLSX, fixture(t, fixtures.XLSX)},
		{"page.html", detect.FormatHTML, []byte(fixtures.HTML)},
		{"scan.png", detect.FormatImage, fixture(t, func() ([]byte, error) { return fixtures.PNG(64, 48) })},
		{"table.csv", detect.FormatCSV, []byte(fixtures.CSV)},
		{"notes.md", detect.FormatMarkdown, []byte(fixtures.Markdown)},
		{"guide.adoc", detect.FormatAsciiDoc, []byte(fixtures.AsciiDoc)},
		{"notes.txt", detect.FormatText, []byte(fixtures.Text)},
	}
	c := newTestConverter(t, testOptions(), Deps{})
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			render := func() string {
				res, err := c.Convert(context.Background(), SourceFromBytes(tt.name, tt.data))
				if err != nil {
					t.Fatalf("convert: %v", err)
				}
				if res.Input.Detection.Format != tt.format {
					t.Fatalf("detected %s, want %s", res.Input.Detection.Format, tt.format)
				}
				md, err := export.Markdown(res.Document, export.MarkdownOptions{})
				if err != nil {
					t.Fatalf("markdown: %v", err)
				}
				return md
			}
			first, second := render(), render()
			if first != second {
				t.Errorf("markdown differs between runs:\n%s\n---\n%s", first, second)
			}
		})
	}
}

func TestConvert_OverlappingHTMLTableIsNotFatal(t *testing.T) {
	page := `<html><body><p>Intro text.</p><table>
<tr><td>A</td><td rowspan="2">B</td></tr>
<tr><td colspan="2">X</td></tr>
</table></body></html>`
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("spans.html", []byte(page)))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Document == nil {
		t.Fatal("expected a document")
	}
	res.Document.Walk(func(n *doctree.Node, _ int) error {
		if n.Table != nil {
			if err := n.Table.Validate(); err != nil {
				t.Errorf("invalid table: %v", err)
			}
		}
		return nil
	})
}

func TestConvert_EncryptedPDFWithoutPassword(t *testing.T) {
	data, err := fixtures.EncryptPDF(fixtures.PDF([]string{"Secret."}), fixtures.Ciphers[0], "user", "owner")
	if err != nil {
		t.Fatal(err)
	}
	c := newTestConverter(t, testOptions(), Deps{})

	res, err := c.Convert(context.Background(), SourceFromBytes("secret.pdf", data))
	if errs.KindOf(err) != errs.KindAccessDenied {
		t.Fatalf("expected access denied, got %v", err)
	}
	if res.Status != StatusFailure || res.Document != nil {
		t.Errorf("expected failure without document, got %s (document %v)", res.Status, res.Document != nil)
	}

	src := SourceFromBytes("secret.pdf", data)
	src.Password = "user"
	res, err = c.Convert(context.Background(), src)
	if err != nil {
		t.Fatalf("convert with password: %v", err)
	}
	md, err := export.Markdown(res.Document, export.MarkdownOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Secret.") {
		t.Errorf("expected the decrypted text, got %q", md)
	}
}

func TestNewConverter_OptionsAreCopied(t *testing.T) {
	opts := testOptions()
	opts.AllowedFormats = []detect.Format{detect.FormatMarkdown}
	opts.Pipelines = map[detect.Format]Kind{detect.FormatPDF: KindSimple}
	c := newTestConverter(t, opts, Deps{})

	opts.AllowedFormats[0] = detect.FormatPDF
	opts.Pipelines[detect.FormatPDF] = KindVLM

	if got := c.Options().KindFor(detect.FormatPDF); got != KindSimple {
		t.Errorf("pipeline for pdf = %s after caller mutation", got)
	}
	if _, err := c.Convert(context.Background(), SourceFromBytes("notes.md", []byte(sampleMarkdown))); err != nil {
		t.Errorf("markdown should still be allowed: %v", err)
	}
	got := c.Options()
	got.Pipelines[detect.FormatPDF] = KindVLM
	if c.Options().KindFor(detect.FormatPDF) != KindSimple {
		t.Error("Options exposes the converter's map")
	}
}

func TestConvert_UnsupportedFormat(t *testing.T) {
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("blob.bin", []byte{0, 1, 2, 3, 0xff, 0xfe}))
	if errs.KindOf(err) != errs.KindUnsupportedFormat {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if res.Status != StatusFailure || res.State != StateFailed || res.Document != nil {
		t.Errorf("expected failure without document, got %s/%s", res.Status, res.State)
	}
	if res.Errors[0].Stage != "detecting" || res.Errors[0].Warning {
		t.Errorf("expected a fatal detecting error, got %+v", res.Errors[0])
	}
}

func TestConvert_FormatNotAllowed(t *testing.T) {
	opts := testOptions()
	opts.AllowedFormats = []detect.Format{detect.FormatPDF}
	c := newTestConverter(t, opts, Deps{})
	_, err := c.Convert(context.Background(), SourceFromBytes("notes.md", []byte(sampleMarkdown)))
	if errs.KindOf(err) != errs.KindUnsupportedFormat {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestConvert_MismatchPolicy(t *testing.T) {
	pdfLike := []byte("%PDF-1.4\nnot really a pdf but looks like one\n")
	src := Source{Name: "doc.md", Data: pdfLike, Hint: detect.FormatMarkdown}

	c := newTestConverter(t, testOptions(), Deps{})
	if _, err := c.Convert(context.Background(), src); errs.KindOf(err) != errs.KindFormatMismatch {
		t.Fatalf("expected format mismatch by default, got %v", err)
	}

	opts := testOptions()
	opts.MismatchPolicy = detect.MismatchWarn
	c = newTestConverter(t, opts, Deps{})
	res, err := c.Convert(context.Background(), src)
	if err != nil {
		t.Fatalf("expected warn policy to proceed, got %v", err)
	}
	if res.Status != StatusPartialSuccess {
		t.Errorf("expected partial success, got %s", res.Status)
	}
	w := res.Warnings()
	if len(w) != 1 || w[0].Kind != errs.KindFormatMismatch || w[0].Stage != "detecting" {
		t.Errorf("expected one mismatch warning, got %+v", w)
	}
}

func TestConvert_EmptyDocument(t *testing.T) {
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("blank.txt", []byte("   \n\n  ")))
	if err != nil {
		t.Fatalf("empty input must not be fatal: %v", err)
	}
	if res.Status != StatusPartialSuccess || res.Document == nil {
		t.Fatalf("expected partial success with a document, got %s", res.Status)
	}
	if res.Errors[0].Kind != errs.KindEmptyDocument || res.Errors[0].Stage != "parsing" {
		t.Errorf("expected an empty document warning, got %+v", res.Errors[0])
	}
}

func TestConvert_CorruptInput(t *testing.T) {
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("broken.pdf", []byte("%PDF-1.7\ngarbage")))
	if errs.KindOf(err) != errs.KindCorruptInput {
		t.Fatalf("expected corrupt input, got %v", err)
	}
	if res.Errors[0].Stage != "parsing" || res.Document != nil {
		t.Errorf("expected a parsing failure without document, got %+v", res.Errors)
	}
}

func TestConvert_MaxFileSize(t *testing.T) {
	opts := testOptions()
	opts.MaxFileSize = 10
	c := newTestConverter(t, opts, Deps{})
	res, err := c.Convert(context.Background(), SourceFromBytes("notes.md", []byte(sampleMarkdown)))
	if errs.KindOf(err) != errs.KindCorruptInput || res.Errors[0].Stage != "parsing" {
		t.Fatalf("expected corrupt input in parsing, got %v", err)
	}
}

func TestConvert_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestConverter(t, testOptions(), Deps{})
	res, err := c.Convert(ctx, SourceFromBytes("notes.md", []byte(sampleMarkdown)))
	if errs.KindOf(err) != errs.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if res.Document != nil {
		t.Error("cancelled conversions must not carry a document")
	}
}

func TestConvert_FromPathAndURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte(sampleMarkdown), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/secret.md" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(sampleMarkdown))
	}))
	defer srv.Close()

	c := newTestConverter(t, testOptions(), Deps{})
	for _, src := range []Source{{Path: path}, {URL: srv.URL + "/files/notes.md"}} {
		res, err := c.Convert(context.Background(), src)
		if err != nil {
			t.Fatalf("convert %+v: %v", src, err)
		}
		if res.Input.Name != "notes.md" {
			t.Errorf("expected name notes.md, got %q", res.Input.Name)
		}
	}

	if _, err := c.Convert(context.Background(), Source{URL: srv.URL + "/secret.md"}); errs.KindOf(err) != errs.KindAccessDenied {
		t.Errorf("expected access denied, got %v", err)
	}
	if _, err := c.Convert(context.Background(), Source{Path: filepath.Join(dir, "missing.md")}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// blockingEngine never answers before its context expires.
type blockingEngine struct{}

func (blockingEngine) Name() string { return "blocking" }
func (blockingEngine) Recognize(ctx context.Context, _ []byte) (*ocr.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConvert_EnrichmentTimeoutIsPartial(t *testing.T) {
	opts := testOptions()
	opts.OCRTimeout = 20 * time.Millisecond
	c := newTestConverter(t, opts, Deps{OCR: blockingEngine{}})
	res, err := c.Convert(context.Background(), SourceFromBytes("scan.png", pngBytes(t, 40, 30)))
	if err != nil {
		t.Fatalf("timeouts must not be fatal: %v", err)
	}
	if res.Status != StatusPartialSuccess {
		t.Fatalf("expected partial success, got %s", res.Status)
	}
	w := res.Warnings()
	if len(w) != 1 || w[0].Kind != errs.KindEnrichmentTimeout || w[0].Stage != "ocr" || w[0].Page != 1 {
		t.Errorf("expected one ocr timeout on page 1, got %+v", w)
	}
	if res.Document == nil || len(res.Document.Pages) != 1 {
		t.Error("expected the parsed document to survive")
	}
}

type pageModel struct {
	answer string
	remote bool
}

func (m pageModel) Name() string { return "page" }
func (m pageModel) Remote() bool { return m.remote }
func (m pageModel) Generate(context.Context, vlm.Request) (string, error) {
	return m.answer, nil
}

func TestConvert_VLMPipeline(t *testing.T) {
	opts := testOptions()
	opts.Pipelines = map[detect.Format]Kind{detect.FormatImage: KindVLM}
	model := pageModel{answer: "<doctag><section_header_level_1><loc_0><loc_0><loc_500><loc_50>Invoice</section_header_level_1><text><loc_0><loc_60><loc_500><loc_90>Total due</text></doctag>"}
	stats := vlm.NewStats(0)
	c := newTestConverter(t, opts, Deps{VLM: model, VLMStats: stats})

	res, err := c.Convert(context.Background(), SourceFromBytes("page.png", pngBytes(t, 100, 100)))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	got := labels(res.Document)
	want := []doctree.Label{doctree.LabelHeading, doctree.LabelParagraph}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
	if stats.Snapshot().Count != 1 {
		t.Errorf("expected one model call, got %d", stats.Snapshot().Count)
	}
}

func TestNewConverter_InvalidConfig(t *testing.T) {
	vlmForMarkdown := testOptions()
	vlmForMarkdown.Pipelines = map[detect.Format]Kind{detect.FormatMarkdown: KindVLM}

	vlmForImage := testOptions()
	vlmForImage.Pipelines = map[detect.Format]Kind{detect.FormatImage: KindVLM}

	withRemote := vlmForImage
	withRemote.EnableRemoteServices = true

	badBackend := testOptions()
	badBackend.Backends = map[detect.Format]string{detect.FormatPDF: "nope"}

	tests := []struct {
		name string
		opts Options
		deps Deps
		ok   bool
	}{
		{"vlm on markdown", vlmForMarkdown, Deps{VLM: pageModel{}}, false},
		{"vlm without model", vlmForImage, Deps{}, false},
		{"remote model disabled", vlmForImage, Deps{VLM: pageModel{remote: true}}, false},
		{"remote model enabled", withRemote, Deps{VLM: pageModel{remote: true}}, true},
		{"unknown backend", badBackend, Deps{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConverter(tt.opts, tt.deps, nil)
			if tt.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tt.ok && errs.KindOf(err) != errs.KindInvalidConfig {
				t.Fatalf("expected invalid config, got %v", err)
			}
		})
	}
}

func TestConvertAll_IsolatesFailures(t *testing.T) {
	c := newTestConverter(t, testOptions(), Deps{})
	results := c.ConvertAll(context.Background(), []Source{
		SourceFromBytes("a.md", []byte("# A\n\ntext")),
		SourceFromBytes("b.bin", []byte{0, 0, 0, 1, 0xff}),
		SourceFromBytes("c.csv", []byte("x,y\n1,2\n")),
	}, 2)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []Status{StatusSuccess, StatusFailure, StatusSuccess}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("result %d (%s): expected %s, got %s", i, r.Input.Name, want[i], r.Status)
		}
	}
}

type mapCache struct {
	mu   sync.Mutex
	docs map[string]*doctree.Document
}

func (m *mapCache) Get(_ context.Context, key string) (*doctree.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	return d, ok, nil
}

func (m *mapCache) Put(_ context.Context, key string, doc *doctree.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = doc
	return nil
}

func TestConvert_Cache(t *testing.T) {
	cache := &mapCache{docs: map[string]*doctree.Document{}}
	c := newTestConverter(t, testOptions(), Deps{Cache: cache})
	src := SourceFromBytes("notes.md", []byte(sampleMarkdown))

	first, err := c.Convert(context.Background(), src)
	if err != nil || first.Cached {
		t.Fatalf("first conversion should run the pipeline: %v", err)
	}
	second, err := c.Convert(context.Background(), src)
	if err != nil {
		t.Fatalf("second conversion: %v", err)
	}
	if !second.Cached || second.Document == nil {
		t.Error("expected a cache hit")
	}

	// Different options must not share entries.
	opts := testOptions()
	opts.DoOCR = false
	other := newTestConverter(t, opts, Deps{Cache: cache})
	third, _ := other.Convert(context.Background(), src)
	if third.Cached {
		t.Error("expected a miss under different options")
	}
}

func TestResultErr(t *testing.T) {
	res := &ConversionResult{State: StateParsing}
	res.warn("ocr", 2, errs.Newf(errs.KindEnrichmentTimeout, "ocr page 2", "slow"))
	res.fail("parsing", errs.AccessDenied)
	if !errors.Is(res.Err(), errs.AccessDenied) {
		t.Errorf("expected access denied, got %v", res.Err())
	}
	if len(res.Warnings()) != 1 {
		t.Errorf("expected one warning, got %d", len(res.Warnings()))
	}
	if err := (&ConversionResult{State: StateDone}).transition(StateParsing); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected illegal transition, got %v", err)
	}
}
