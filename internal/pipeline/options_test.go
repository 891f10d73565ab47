package pipeline

import (
	"errors"
	"runtime"
	"testing"

	"github.com/dgallion1/docweave/internal/detect"
)

func TestKindFor(t *testing.T) {
	opts := DefaultOptions()
	if opts.KindFor(detect.FormatPDF) != KindStandardPDF || opts.KindFor(detect.FormatImage) != KindStandardPDF {
		t.Error("expected layout formats to default to the standard pdf pipeline")
	}
	if opts.KindFor(detect.FormatDOCX) != KindSimple {
		t.Error("expected structured formats to default to the simple pipeline")
	}
	opts.Pipelines = map[detect.Format]Kind{detect.FormatPDF: KindVLM}
	if opts.KindFor(detect.FormatPDF) != KindVLM {
		t.Error("expected the override to win")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"simple": KindSimple, "STANDARD_PDF": KindStandardPDF, "pdf": KindStandardPDF, "vlm": KindVLM} {
		if got, ok := ParseKind(in); !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseKind("fancy"); ok {
		t.Error("expected unknown kind to be rejected")
	}
}

func TestOptionsValidate(t *testing.T) {
	bad := []Options{
		{AllowedFormats: []detect.Format{"exe"}},
		{Pipelines: map[detect.Format]Kind{detect.FormatCSV: KindVLM}},
		{Pipelines: map[detect.Format]Kind{detect.FormatPDF: "fancy"}},
		{Accelerator: Accelerator{Device: "tpu"}},
		{MismatchPolicy: "ignore"},
		{VLMFormat: "PDF"},
		{MaxFileSize: -1},
	}
	for i, o := range bad {
		if err := o.Validate(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
	if err := DefaultOptions().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("expected equal options to share a fingerprint")
	}
	b.DoCellMatching = false
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("expected a changed option to change the fingerprint")
	}
	// Timeouts do not change output.
	c := DefaultOptions()
	c.OCRTimeout = 1
	if a.Fingerprint() != c.Fingerprint() {
		t.Error("expected timeouts to be ignored")
	}
}

func TestAcceleratorResolve(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()

	lookPath = func(string) (string, error) { return "/usr/bin/nvidia-smi", nil }
	if got := (Accelerator{Device: DeviceAuto}).Resolve(); got.Device != DeviceCUDA {
		t.Errorf("expected cuda with nvidia-smi present, got %s", got.Device)
	}

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	want := DeviceCPU
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		want = DeviceMPS
	}
	if got := (Accelerator{}).Resolve(); got.Device != want {
		t.Errorf("expected %s, got %s", want, got.Device)
	}

	if got := (Accelerator{Device: DeviceCPU, Threads: 3}).Resolve(); got.Device != DeviceCPU || got.Threads != 3 {
		t.Errorf("explicit settings must be kept, got %+v", got)
	}
}

func TestAcceleratorThreadsFromEnv(t *testing.T) {
	t.Setenv("OMP_NUM_THREADS", "7")
	if got := (Accelerator{Device: DeviceCPU}).Resolve(); got.Threads != 7 {
		t.Errorf("expected 7 threads, got %d", got.Threads)
	}
	t.Setenv("OMP_NUM_THREADS", "")
	if got := (Accelerator{Device: DeviceCPU}).Resolve(); got.Threads != runtime.NumCPU() {
		t.Errorf("expected NumCPU threads, got %d", got.Threads)
	}
}
