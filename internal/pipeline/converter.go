// Package pipeline runs documents through detection, parsing, enrichment
// and assembly, and queues conversions for asynchronous processing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/enrich"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/ocr"
	"github.com/dgallion1/docweave/internal/parser"
	"github.com/dgallion1/docweave/internal/vlm"
)

// Cache stores successful conversions by key.
type Cache interface {
	Get(ctx context.Context, key string) (*doctree.Document, bool, error)
	Put(ctx context.Context, key string, doc *doctree.Document) error
}

// Deps are the capabilities a Converter calls out to. Nil fields disable
// what depends on them, except Registry and TableModel which default to
// the built-in backends and the geometric grid model.
type Deps struct {
	Registry   *parser.Registry
	OCR        ocr.Engine
	Rasterizer ocr.Rasterizer
	TableModel enrich.TableModel
	VLM        vlm.Model
	VLMStats   *vlm.Stats
	Cache      Cache
	HTTPClient *http.Client
}

// Converter turns sources into documents. It is safe for concurrent use.
type Converter struct {
	opts     Options
	deps     Deps
	accel    Accelerator
	detector *detect.Detector
	log      *slog.Logger
}

// NewConverter validates opts against deps and builds a converter.
func NewConverter(opts Options, deps Deps, log *slog.Logger) (*Converter, error) {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.Clone()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = parser.DefaultRegistry()
	}
	if deps.TableModel == nil {
		deps.TableModel = enrich.GridModel{}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: opts.FetchTimeout}
	}
	for f, name := range opts.Backends {
		if _, err := deps.Registry.For(f, name); err != nil {
			return nil, err
		}
	}
	if opts.usesVLM() {
		if deps.VLM == nil {
			return nil, errs.Newf(errs.KindInvalidConfig, "options", "pipeline vlm selected but no model configured")
		}
		if deps.VLM.Remote() && !opts.EnableRemoteServices {
			return nil, errs.Newf(errs.KindInvalidConfig, "options",
				"model %s is remote and remote services are disabled", deps.VLM.Name())
		}
		deps.VLM = withRetry(deps.VLM, log)
	}
	if opts.DoOCR && deps.OCR == nil {
		log.Warn("ocr enabled but no engine configured, ocr stage disabled")
	}

	c := &Converter{
		opts:  opts,
		deps:  deps,
		accel: opts.Accelerator.Resolve(),
		detector: &detect.Detector{
			Allowed: opts.AllowedFormats,
			Policy:  opts.MismatchPolicy,
			Logger:  log,
		},
		log: log,
	}
	log.Info("converter ready", "device", c.accel.Device, "threads", c.accel.Threads)
	return c, nil
}

// Options returns a copy of the converter's options.
func (c *Converter) Options() Options { return c.opts.Clone() }

// Accelerator returns the resolved accelerator.
func (c *Converter) Accelerator() Accelerator { return c.accel }

// Formats lists the formats this converter accepts.
func (c *Converter) Formats() []detect.Format {
	var out []detect.Format
	for _, f := range c.deps.Registry.Formats() {
		if len(c.opts.AllowedFormats) == 0 || slices.Contains(c.opts.AllowedFormats, f) {
			out = append(out, f)
		}
	}
	return out
}

// Detect resolves the format of data without converting it.
func (c *Converter) Detect(name string, data []byte, hint detect.Format) (detect.Detection, error) {
	return c.detector.Detect(name, data, hint)
}

// stages returns the enrichment stages for a pipeline kind in run order.
func (c *Converter) stages(kind Kind) []enrich.Stage {
	switch kind {
	case KindStandardPDF:
		var out []enrich.Stage
		if c.opts.DoOCR && c.deps.OCR != nil {
			out = append(out, &enrich.OCRStage{
				Engine:        c.deps.OCR,
				Rasterizer:    c.deps.Rasterizer,
				ForceFullPage: c.opts.ForceFullPageOCR,
				DPI:           c.opts.OCRDPI,
				Threads:       c.accel.Threads,
				PageTimeout:   c.opts.OCRTimeout,
			})
		}
		if c.opts.DoTableStructure {
			out = append(out, &enrich.TableStage{
				Model:          c.deps.TableModel,
				DoCellMatching: c.opts.DoCellMatching,
				Threads:        c.accel.Threads,
				Timeout:        c.opts.TableTimeout,
			})
		}
		return out
	case KindVLM:
		return []enrich.Stage{&vlm.Stage{
			Model:       c.deps.VLM,
			Rasterizer:  c.deps.Rasterizer,
			Format:      c.opts.VLMFormat,
			Prompt:      c.opts.VLMPrompt,
			DPI:         c.opts.OCRDPI,
			Threads:     c.accel.Threads,
			PageTimeout: c.opts.VLMTimeout,
			Stats:       c.deps.VLMStats,
		}}
	}
	return nil
}

// Convert runs one source through the pipeline. The result is never nil;
// the returned error is the fatal error of a failed conversion.
func (c *Converter) Convert(ctx context.Context, src Source) (*ConversionResult, error) {
	name := src.name()
	res := &ConversionResult{
		ID:      uuid.NewString(),
		Input:   Input{Name: name},
		State:   StateDetecting,
		Errors:  []ErrorItem{},
		Timings: []Timing{},
	}
	log := c.log.With("conversion_id", res.ID, "file", name)
	start := time.Now()

	c.run(ctx, src, res, log)

	if res.Status == StatusFailure {
		log.Error("conversion failed", "error", res.Err(), "duration", time.Since(start))
		return res, res.Err()
	}
	log.Info("conversion finished", "status", res.Status, "warnings", len(res.Errors), "duration", time.Since(start))
	return res, nil
}

func (c *Converter) run(ctx context.Context, src Source, res *ConversionResult, log *slog.Logger) {
	// Detecting
	t := time.Now()
	data, err := src.load(ctx, c.deps.HTTPClient, c.opts.MaxFileSize)
	if err != nil {
		res.fail(string(StateDetecting), err)
		return
	}
	res.Input.Size = len(data)
	res.Input.Hash = ContentHashHex(data)
	det, err := c.detector.Detect(res.Input.Name, data, src.Hint)
	if err != nil {
		res.fail(string(StateDetecting), err)
		return
	}
	if det.Warning != nil {
		res.warn(string(StateDetecting), 0, det.Warning)
	}
	kind := c.opts.KindFor(det.Format)
	res.Input.Detection = det
	res.Input.Pipeline = kind
	res.Timings = append(res.Timings, Timing{Stage: string(StateDetecting), Duration: time.Since(t)})
	log = log.With("format", det.Format, "pipeline", kind)

	cacheKey := res.Input.Hash + ":" + c.opts.Fingerprint() + ":" + string(det.Format)
	if c.deps.Cache != nil && len(res.Errors) == 0 {
		doc, ok, err := c.deps.Cache.Get(ctx, cacheKey)
		if err != nil {
			log.Warn("cache lookup failed", "error", err)
		} else if ok {
			log.Debug("cache hit")
			res.Document = doc
			res.Cached = true
			res.State = StateDone
			res.Status = StatusSuccess
			return
		}
	}

	if !c.advance(ctx, res, StateParsing, log) {
		return
	}

	// Parsing
	t = time.Now()
	if c.opts.MaxFileSize > 0 && int64(len(data)) > c.opts.MaxFileSize {
		res.fail(string(StateParsing), errs.Newf(errs.KindCorruptInput, "parse",
			"input exceeds the limit of %d bytes", c.opts.MaxFileSize))
		return
	}
	backend, err := c.deps.Registry.For(det.Format, c.opts.Backends[det.Format])
	if err != nil {
		res.fail(string(StateParsing), err)
		return
	}
	doc, err := backend.Parse(ctx, data, parser.Options{
		Filename:  res.Input.Name,
		Password:  src.Password,
		Detection: det,
		MaxPages:  c.opts.MaxPages,
		Logger:    log,
	})
	var emptyErr error
	switch {
	case err == nil:
	case errs.KindOf(err) == errs.KindEmptyDocument && doc != nil:
		emptyErr = err
	default:
		res.fail(string(StateParsing), err)
		return
	}
	doc.Origin.Hash = res.Input.Hash
	res.Timings = append(res.Timings, Timing{Stage: string(StateParsing), Duration: time.Since(t)})

	// Enriching. A document with no text but with pages still goes through
	// OCR or VLM, which may find content in the page images.
	stages := c.stages(kind)
	if emptyErr != nil && len(doc.Pages) == 0 {
		stages = nil
	}
	for _, st := range stages {
		if !c.advance(ctx, res, StateEnriching, log) {
			return
		}
		t = time.Now()
		out, report, err := st.Run(ctx, enrich.Input{Doc: doc, Source: data, Password: src.Password, Logger: log})
		if err != nil {
			if errs.KindOf(err) == errs.KindCancelled || ctx.Err() != nil {
				res.fail(st.Name(), err)
				return
			}
			log.Warn("stage failed, document passed through", "stage", st.Name(), "error", err)
			res.warn(st.Name(), 0, err)
			res.Timings = append(res.Timings, Timing{Stage: st.Name(), Duration: time.Since(t)})
			continue
		}
		doc = out
		if report != nil {
			for _, u := range report.Units {
				if u.Err != nil {
					res.warn(st.Name(), u.Page, u.Err)
				}
				if c.opts.Profiling {
					res.Timings = append(res.Timings, Timing{Stage: st.Name(), Page: u.Page, Duration: u.Duration})
				}
			}
		}
		res.Timings = append(res.Timings, Timing{Stage: st.Name(), Duration: time.Since(t)})
	}
	if emptyErr != nil && !doc.HasContent() {
		log.Warn("document has no content")
		res.warn(string(StateParsing), 0, emptyErr)
	}

	if !c.advance(ctx, res, StateAssembling, log) {
		return
	}
	t = time.Now()
	warnings, err := Assemble(doc)
	for _, w := range warnings {
		log.Warn("assembly repaired content", "error", w)
		res.warn(string(StateAssembling), 0, w)
	}
	if err != nil {
		res.fail(string(StateAssembling), err)
		return
	}
	res.Timings = append(res.Timings, Timing{Stage: string(StateAssembling), Duration: time.Since(t)})
	res.Document = doc
	res.finish()

	if c.deps.Cache != nil && res.Status == StatusSuccess {
		if err := c.deps.Cache.Put(ctx, cacheKey, doc); err != nil {
			log.Warn("cache store failed", "error", err)
		}
	}
}

// advance moves to the next state unless the conversion was cancelled.
func (c *Converter) advance(ctx context.Context, res *ConversionResult, to State, log *slog.Logger) bool {
	if err := ctx.Err(); err != nil {
		res.fail(string(res.State), errs.New(errs.KindCancelled, "convert", err))
		return false
	}
	from := res.State
	if err := res.transition(to); err != nil {
		res.fail(string(from), errs.New(errs.KindUnknown, "convert", err))
		return false
	}
	log.Debug("state transition", "from", from, "to", to)
	return true
}

// ConvertAll converts sources concurrently, at most limit at a time. A
// failed source never affects the others; results are in input order.
func (c *Converter) ConvertAll(ctx context.Context, sources []Source, limit int) []*ConversionResult {
	results := make([]*ConversionResult, len(sources))
	var g errgroup.Group
	if limit <= 0 {
		limit = c.accel.Threads
	}
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					res := &ConversionResult{Input: Input{Name: src.name()}, State: StateDetecting}
					res.fail("convert", errs.Newf(errs.KindUnknown, "convert", "panic: %v", r))
					results[i] = res
				}
			}()
			results[i], _ = c.Convert(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// String summarizes a result for logs and the CLI.
func (r *ConversionResult) String() string {
	return fmt.Sprintf("%s %s (%s, %d warnings)", r.Input.Name, r.Status, r.Input.Detection.Format, len(r.Warnings()))
}
