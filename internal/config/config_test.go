package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/pipeline"
	"github.com/dgallion1/docweave/internal/vlm"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOCWEAVE_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8090" || cfg.WorkerCount != 4 || cfg.MaxQueueSize != 100 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.DoOCR || !cfg.DoTableStructure || !cfg.DoCellMatching {
		t.Error("enrichment should default on")
	}
	if cfg.MismatchPolicy != "fail" {
		t.Errorf("mismatch policy = %q, want fail", cfg.MismatchPolicy)
	}
	if cfg.ChunkMaxTokens != 512 {
		t.Errorf("chunk tokens = %d", cfg.ChunkMaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DOCWEAVE_CONFIG", "")
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_TTL", "15m")
	t.Setenv("DO_OCR", "false")
	t.Setenv("MISMATCH_POLICY", "warn")
	t.Setenv("DOCWEAVE_FORMATS", "pdf, md")
	t.Setenv("DOCWEAVE_PIPELINES", "pdf:simple,image:standard_pdf")
	t.Setenv("MAX_QUEUE_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9000" || cfg.WorkerCount != 8 || cfg.JobTTL != 15*time.Minute {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.MaxQueueSize != 100 {
		t.Errorf("bad number should keep default, got %d", cfg.MaxQueueSize)
	}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.DoOCR {
		t.Error("DO_OCR=false not applied")
	}
	if opts.MismatchPolicy != detect.MismatchWarn {
		t.Errorf("policy = %q", opts.MismatchPolicy)
	}
	if len(opts.AllowedFormats) != 2 || opts.AllowedFormats[0] != detect.FormatPDF || opts.AllowedFormats[1] != detect.FormatMarkdown {
		t.Errorf("formats = %v", opts.AllowedFormats)
	}
	if opts.KindFor(detect.FormatPDF) != pipeline.KindSimple {
		t.Errorf("pdf pipeline = %s", opts.KindFor(detect.FormatPDF))
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docweave.yaml")
	yml := `
port: "7000"
worker_count: 2
do_table_structure: false
vlm_format: markdown
vlm_timeout: 45s
pipelines:
  pdf: vlm
vlm_endpoint: http://localhost:11434/v1
ocr_languages: [eng, deu]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCWEAVE_CONFIG", path)
	t.Setenv("WORKER_COUNT", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7000" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.WorkerCount != 6 {
		t.Errorf("env should override file, worker count = %d", cfg.WorkerCount)
	}
	if cfg.DoTableStructure {
		t.Error("file value not applied")
	}
	if !cfg.DoOCR {
		t.Error("keys absent from the file should keep defaults")
	}
	if cfg.VLMTimeout != 45*time.Second {
		t.Errorf("vlm timeout = %v", cfg.VLMTimeout)
	}
	if len(cfg.OCRLanguages) != 2 {
		t.Errorf("languages = %v", cfg.OCRLanguages)
	}
	if !cfg.UsesVLM() {
		t.Error("expected vlm pipeline")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	opts, _ := cfg.PipelineOptions()
	if opts.VLMFormat != vlm.FormatMarkdown {
		t.Errorf("vlm format = %q", opts.VLMFormat)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCWEAVE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("DOCWEAVE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected read error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown format", func(c *Config) { c.AllowedFormats = []string{"exe"} }},
		{"unknown pipeline", func(c *Config) { c.Pipelines = map[string]string{"pdf": "magic"} }},
		{"vlm on text format", func(c *Config) {
			c.Pipelines = map[string]string{"docx": "vlm"}
			c.VLMEndpoint = "http://localhost"
		}},
		{"vlm without endpoint", func(c *Config) { c.Pipelines = map[string]string{"pdf": "vlm"} }},
		{"unknown provider", func(c *Config) {
			c.Pipelines = map[string]string{"pdf": "vlm"}
			c.VLMEndpoint = "http://localhost"
			c.VLMProvider = "carrier-pigeon"
		}},
		{"unknown device", func(c *Config) { c.Device = "tpu" }},
		{"unknown policy", func(c *Config) { c.MismatchPolicy = "ignore" }},
		{"unknown vlm format", func(c *Config) { c.VLMFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if errs.KindOf(err) != errs.KindInvalidConfig {
				t.Errorf("kind = %s, want invalid_config", errs.KindOf(err))
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected missing api key error")
	}
	cfg.APIKey = "secret"
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChunkerConfig(t *testing.T) {
	cfg := Default()
	cfg.ChunkMaxTokens = 256
	cfg.ChunkSplitOversized = true
	cc := cfg.ChunkerConfig()
	if cc.MaxTokens != 256 || !cc.SplitOversized || !cc.MergeListItems {
		t.Errorf("chunker config = %+v", cc)
	}
}
