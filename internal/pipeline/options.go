package pipeline

import (
	"crypto/sha256"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/vlm"
)

// Kind selects the stage ordering applied after parsing.
type Kind string

const (
	// KindSimple parses and assembles with no enrichment.
	KindSimple Kind = "simple"
	// KindStandardPDF runs OCR and table-structure recovery on layout formats.
	KindStandardPDF Kind = "standard_pdf"
	// KindVLM rebuilds the body from a vision-language model reading each page.
	KindVLM Kind = "vlm"
)

// ParseKind maps a configuration value to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSimple, KindStandardPDF, KindVLM:
		return k, true
	case "standard", "pdf":
		return KindStandardPDF, true
	}
	return "", false
}

// Device is an accelerator device.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

// ParseDevice maps a configuration value to a Device.
func ParseDevice(s string) (Device, bool) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case DeviceAuto, DeviceCPU, DeviceCUDA, DeviceMPS:
		return d, true
	case "":
		return DeviceAuto, true
	}
	return "", false
}

// Accelerator is the device and thread count model-backed stages run with.
type Accelerator struct {
	Device  Device `json:"device" yaml:"device"`
	Threads int    `json:"threads" yaml:"threads"`
}

var lookPath = exec.LookPath

// Resolve replaces AUTO with a concrete device and fills in the thread
// count from OMP_NUM_THREADS or the number of CPUs.
func (a Accelerator) Resolve() Accelerator {
	if a.Device == "" || a.Device == DeviceAuto {
		switch {
		case hasCUDA():
			a.Device = DeviceCUDA
		case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
			a.Device = DeviceMPS
		default:
			a.Device = DeviceCPU
		}
	}
	if a.Threads <= 0 {
		a.Threads = runtime.NumCPU()
		if n, err := strconv.Atoi(os.Getenv("OMP_NUM_THREADS")); err == nil && n > 0 {
			a.Threads = n
		}
	}
	return a
}

func hasCUDA() bool {
	_, err := lookPath("nvidia-smi")
	return err == nil
}

// Options configure a Converter. They are read-only once the converter is
// built and may be shared across concurrent conversions.
type Options struct {
	// AllowedFormats whitelists input formats; empty allows all.
	AllowedFormats []detect.Format
	// Pipelines overrides the pipeline kind per format.
	Pipelines map[detect.Format]Kind
	// Backends selects a named backend per format.
	Backends map[detect.Format]string

	DoOCR            bool
	DoTableStructure bool
	DoCellMatching   bool
	ForceFullPageOCR bool

	Accelerator          Accelerator
	EnableRemoteServices bool
	// Profiling records per-page unit timings next to stage timings.
	Profiling bool

	MismatchPolicy detect.MismatchPolicy

	OCRDPI       int
	OCRTimeout   time.Duration
	TableTimeout time.Duration
	VLMTimeout   time.Duration
	VLMFormat    vlm.ResponseFormat
	VLMPrompt    string

	// MaxFileSize rejects larger inputs; 0 means no cap.
	MaxFileSize int64
	// MaxPages rejects layout documents with more pages; 0 means no cap.
	MaxPages int
	// FetchTimeout bounds URL downloads.
	FetchTimeout time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DoOCR:            true,
		DoTableStructure: true,
		DoCellMatching:   true,
		Accelerator:      Accelerator{Device: DeviceAuto},
		MismatchPolicy:   detect.MismatchFail,
		OCRDPI:           150,
		OCRTimeout:       60 * time.Second,
		TableTimeout:     30 * time.Second,
		VLMTimeout:       120 * time.Second,
		VLMFormat:        vlm.FormatDocTags,
		MaxFileSize:      50 << 20,
		FetchTimeout:     30 * time.Second,
	}
}

// Clone returns a copy that shares no slices or maps with o.
func (o Options) Clone() Options {
	o.AllowedFormats = slices.Clone(o.AllowedFormats)
	o.Pipelines = maps.Clone(o.Pipelines)
	o.Backends = maps.Clone(o.Backends)
	return o
}

// KindFor returns the pipeline kind used for format f.
func (o Options) KindFor(f detect.Format) Kind {
	if k, ok := o.Pipelines[f]; ok {
		return k
	}
	if f.IsLayout() {
		return KindStandardPDF
	}
	return KindSimple
}

// Validate rejects configurations that cannot work, such as the VLM
// pipeline on a format without page images.
func (o Options) Validate() error {
	for _, f := range o.AllowedFormats {
		if !slices.Contains(detect.AllFormats, f) {
			return errs.Newf(errs.KindInvalidConfig, "options", "unknown format %q", f)
		}
	}
	for f, k := range o.Pipelines {
		if _, ok := ParseKind(string(k)); !ok {
			return errs.Newf(errs.KindInvalidConfig, "options", "unknown pipeline %q for %s", k, f)
		}
		if k == KindVLM && !f.IsLayout() {
			return errs.Newf(errs.KindInvalidConfig, "options", "pipeline vlm needs page images, %s has none", f)
		}
	}
	if _, ok := ParseDevice(string(o.Accelerator.Device)); !ok {
		return errs.Newf(errs.KindInvalidConfig, "options", "unknown accelerator device %q", o.Accelerator.Device)
	}
	switch o.MismatchPolicy {
	case "", detect.MismatchFail, detect.MismatchWarn:
	default:
		return errs.Newf(errs.KindInvalidConfig, "options", "unknown mismatch policy %q", o.MismatchPolicy)
	}
	if o.VLMFormat != "" {
		if _, ok := vlm.ParseResponseFormat(string(o.VLMFormat)); !ok {
			return errs.Newf(errs.KindInvalidConfig, "options", "unknown response format %q", o.VLMFormat)
		}
	}
	if o.MaxFileSize < 0 || o.MaxPages < 0 {
		return errs.Newf(errs.KindInvalidConfig, "options", "limits must not be negative")
	}
	return nil
}

func (o Options) usesVLM() bool {
	for _, k := range o.Pipelines {
		if k == KindVLM {
			return true
		}
	}
	return false
}

// Fingerprint hashes every option that changes conversion output, so
// cached results are only reused under identical settings.
func (o Options) Fingerprint() string {
	var b strings.Builder
	formats := slices.Clone(o.AllowedFormats)
	slices.Sort(formats)
	fmt.Fprintf(&b, "formats=%v;", formats)
	writeMap(&b, "pipelines", o.Pipelines)
	writeMap(&b, "backends", o.Backends)
	fmt.Fprintf(&b, "ocr=%t;tables=%t;match=%t;force=%t;dpi=%d;", o.DoOCR, o.DoTableStructure, o.DoCellMatching, o.ForceFullPageOCR, o.OCRDPI)
	fmt.Fprintf(&b, "vlm=%s;prompt=%s;maxpages=%d;policy=%s", o.VLMFormat, o.VLMPrompt, o.MaxPages, o.MismatchPolicy)
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:8])
}

func writeMap[V ~string](b *strings.Builder, name string, m map[detect.Format]V) {
	keys := make([]string, 0, len(m))
	for f := range m {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	b.WriteString(name + "=")
	for _, k := range keys {
		fmt.Fprintf(b, "%s:%s,", k, m[detect.Format(k)])
	}
	b.WriteString(";")
}
