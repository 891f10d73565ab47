package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docweave/internal/chunker"
	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/pipeline"
	"github.com/dgallion1/docweave/internal/vlm"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Worker pool
	WorkerCount  int           `yaml:"worker_count"`
	MaxQueueSize int           `yaml:"max_queue_size"`
	JobTTL       time.Duration `yaml:"job_ttl"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxPages       int   `yaml:"max_pages"`

	// Conversion
	AllowedFormats       []string          `yaml:"allowed_formats"`
	Pipelines            map[string]string `yaml:"pipelines"`
	Backends             map[string]string `yaml:"backends"`
	DoOCR                bool              `yaml:"do_ocr"`
	DoTableStructure     bool              `yaml:"do_table_structure"`
	DoCellMatching       bool              `yaml:"do_cell_matching"`
	ForceFullPageOCR     bool              `yaml:"force_full_page_ocr"`
	Device               string            `yaml:"device"`
	Threads              int               `yaml:"threads"`
	EnableRemoteServices bool              `yaml:"enable_remote_services"`
	Profiling            bool              `yaml:"profiling"`
	MismatchPolicy       string            `yaml:"mismatch_policy"`
	FetchTimeout         time.Duration     `yaml:"fetch_timeout"`

	// OCR
	TesseractBinary string        `yaml:"tesseract_binary"`
	OCRLanguages    []string      `yaml:"ocr_languages"`
	PdftoppmBinary  string        `yaml:"pdftoppm_binary"`
	OCRDPI          int           `yaml:"ocr_dpi"`
	OCRTimeout      time.Duration `yaml:"ocr_timeout"`
	TableTimeout    time.Duration `yaml:"table_timeout"`

	// Vision-language model
	VLMProvider string        `yaml:"vlm_provider"` // openai or remote
	VLMEndpoint string        `yaml:"vlm_endpoint"`
	VLMModel    string        `yaml:"vlm_model"`
	VLMAPIKey   string        `yaml:"vlm_api_key"`
	VLMFormat   string        `yaml:"vlm_format"`
	VLMPrompt   string        `yaml:"vlm_prompt"`
	VLMTimeout  time.Duration `yaml:"vlm_timeout"`

	// Result cache; empty path disables it.
	CachePath string        `yaml:"cache_path"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// Chunking defaults
	ChunkMaxTokens      int  `yaml:"chunk_max_tokens"`
	ChunkMergeListItems bool `yaml:"chunk_merge_list_items"`
	ChunkSplitOversized bool `yaml:"chunk_split_oversized"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	opts := pipeline.DefaultOptions()
	return Config{
		Port:     "8090",
		LogLevel: "info",

		WorkerCount:  4,
		MaxQueueSize: 100,
		JobTTL:       time.Hour,

		MaxUploadBytes: opts.MaxFileSize,

		DoOCR:            opts.DoOCR,
		DoTableStructure: opts.DoTableStructure,
		DoCellMatching:   opts.DoCellMatching,
		Device:           string(opts.Accelerator.Device),
		MismatchPolicy:   string(opts.MismatchPolicy),
		FetchTimeout:     opts.FetchTimeout,

		OCRDPI:       opts.OCRDPI,
		OCRTimeout:   opts.OCRTimeout,
		TableTimeout: opts.TableTimeout,

		VLMProvider: "openai",
		VLMModel:    "granite-docling",
		VLMFormat:   string(opts.VLMFormat),
		VLMTimeout:  opts.VLMTimeout,

		CacheTTL: 7 * 24 * time.Hour,

		ChunkMaxTokens:      chunker.DefaultMaxTokens,
		ChunkMergeListItems: true,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// DOCWEAVE_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("DOCWEAVE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	cfg.fillZero()
	return cfg, nil
}

// loadFile overlays keys present in a YAML file onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.APIKey = envOr("DOCWEAVE_API_KEY", c.APIKey)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.MaxPages = envInt("MAX_PAGES", c.MaxPages)

	c.AllowedFormats = envList("DOCWEAVE_FORMATS", c.AllowedFormats)
	c.Pipelines = envMap("DOCWEAVE_PIPELINES", c.Pipelines)
	c.Backends = envMap("DOCWEAVE_BACKENDS", c.Backends)
	c.DoOCR = envBool("DO_OCR", c.DoOCR)
	c.DoTableStructure = envBool("DO_TABLE_STRUCTURE", c.DoTableStructure)
	c.DoCellMatching = envBool("DO_CELL_MATCHING", c.DoCellMatching)
	c.ForceFullPageOCR = envBool("FORCE_FULL_PAGE_OCR", c.ForceFullPageOCR)
	c.Device = envOr("DOCWEAVE_DEVICE", c.Device)
	c.Threads = envInt("DOCWEAVE_THREADS", c.Threads)
	c.EnableRemoteServices = envBool("ENABLE_REMOTE_SERVICES", c.EnableRemoteServices)
	c.Profiling = envBool("PROFILING", c.Profiling)
	c.MismatchPolicy = envOr("MISMATCH_POLICY", c.MismatchPolicy)
	c.FetchTimeout = envDuration("FETCH_TIMEOUT", c.FetchTimeout)

	c.TesseractBinary = envOr("TESSERACT_BINARY", c.TesseractBinary)
	c.OCRLanguages = envList("OCR_LANGUAGES", c.OCRLanguages)
	c.PdftoppmBinary = envOr("PDFTOPPM_BINARY", c.PdftoppmBinary)
	c.OCRDPI = envInt("OCR_DPI", c.OCRDPI)
	c.OCRTimeout = envDuration("OCR_TIMEOUT", c.OCRTimeout)
	c.TableTimeout = envDuration("TABLE_TIMEOUT", c.TableTimeout)

	c.VLMProvider = envOr("VLM_PROVIDER", c.VLMProvider)
	c.VLMEndpoint = envOr("VLM_ENDPOINT", c.VLMEndpoint)
	c.VLMModel = envOr("VLM_MODEL", c.VLMModel)
	c.VLMAPIKey = envOr("VLM_API_KEY", c.VLMAPIKey)
	c.VLMFormat = envOr("VLM_FORMAT", c.VLMFormat)
	c.VLMPrompt = envOr("VLM_PROMPT", c.VLMPrompt)
	c.VLMTimeout = envDuration("VLM_TIMEOUT", c.VLMTimeout)

	c.CachePath = envOr("DOCWEAVE_CACHE", c.CachePath)
	c.CacheTTL = envDuration("CACHE_TTL", c.CacheTTL)

	c.ChunkMaxTokens = envInt("CHUNK_MAX_TOKENS", c.ChunkMaxTokens)
	c.ChunkMergeListItems = envBool("CHUNK_MERGE_LIST_ITEMS", c.ChunkMergeListItems)
	c.ChunkSplitOversized = envBool("CHUNK_SPLIT_OVERSIZED", c.ChunkSplitOversized)
}

// fillZero restores defaults for sizes that must be positive.
func (c *Config) fillZero() {
	d := Default()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if c.OCRDPI <= 0 {
		c.OCRDPI = d.OCRDPI
	}
	if c.ChunkMaxTokens <= 0 {
		c.ChunkMaxTokens = d.ChunkMaxTokens
	}
}

// Validate reports settings that cannot produce a working converter.
func (c Config) Validate() error {
	opts, err := c.PipelineOptions()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if c.UsesVLM() {
		switch c.VLMProvider {
		case "openai", "remote":
		default:
			return errs.Newf(errs.KindInvalidConfig, "config", "unknown vlm provider %q", c.VLMProvider)
		}
		if c.VLMEndpoint == "" {
			return errs.Newf(errs.KindInvalidConfig, "config", "VLM_ENDPOINT is required when a pipeline uses vlm")
		}
	}
	return nil
}

// ValidateServer additionally requires what the HTTP server needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCWEAVE_API_KEY is required")
	}
	return nil
}

// UsesVLM reports whether any format is routed to the vlm pipeline.
func (c Config) UsesVLM() bool {
	for _, k := range c.Pipelines {
		if kind, ok := pipeline.ParseKind(k); ok && kind == pipeline.KindVLM {
			return true
		}
	}
	return false
}

// PipelineOptions converts the configuration into converter options.
func (c Config) PipelineOptions() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	for _, s := range c.AllowedFormats {
		f, ok := detect.ParseFormat(s)
		if !ok {
			return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown format %q", s)
		}
		opts.AllowedFormats = append(opts.AllowedFormats, f)
	}
	if len(c.Pipelines) > 0 {
		opts.Pipelines = make(map[detect.Format]pipeline.Kind, len(c.Pipelines))
		for fs, ks := range c.Pipelines {
			f, ok := detect.ParseFormat(fs)
			if !ok {
				return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown format %q in pipelines", fs)
			}
			k, ok := pipeline.ParseKind(ks)
			if !ok {
				return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown pipeline %q for %s", ks, fs)
			}
			opts.Pipelines[f] = k
		}
	}
	if len(c.Backends) > 0 {
		opts.Backends = make(map[detect.Format]string, len(c.Backends))
		for fs, name := range c.Backends {
			f, ok := detect.ParseFormat(fs)
			if !ok {
				return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown format %q in backends", fs)
			}
			opts.Backends[f] = name
		}
	}
	dev, ok := pipeline.ParseDevice(c.Device)
	if !ok {
		return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown device %q", c.Device)
	}
	opts.Accelerator = pipeline.Accelerator{Device: dev, Threads: c.Threads}

	switch p := detect.MismatchPolicy(strings.ToLower(c.MismatchPolicy)); p {
	case detect.MismatchFail, detect.MismatchWarn:
		opts.MismatchPolicy = p
	case "":
	default:
		return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown mismatch policy %q", c.MismatchPolicy)
	}
	if c.VLMFormat != "" {
		vf, ok := vlm.ParseResponseFormat(c.VLMFormat)
		if !ok {
			return opts, errs.Newf(errs.KindInvalidConfig, "config", "unknown vlm format %q", c.VLMFormat)
		}
		opts.VLMFormat = vf
	}

	opts.DoOCR = c.DoOCR
	opts.DoTableStructure = c.DoTableStructure
	opts.DoCellMatching = c.DoCellMatching
	opts.ForceFullPageOCR = c.ForceFullPageOCR
	opts.EnableRemoteServices = c.EnableRemoteServices
	opts.Profiling = c.Profiling
	opts.OCRDPI = c.OCRDPI
	opts.OCRTimeout = c.OCRTimeout
	opts.TableTimeout = c.TableTimeout
	opts.VLMTimeout = c.VLMTimeout
	opts.VLMPrompt = c.VLMPrompt
	opts.MaxFileSize = c.MaxUploadBytes
	opts.MaxPages = c.MaxPages
	opts.FetchTimeout = c.FetchTimeout
	return opts, nil
}

// ChunkerConfig returns the default chunking settings.
func (c Config) ChunkerConfig() chunker.Config {
	return chunker.Config{
		MaxTokens:      c.ChunkMaxTokens,
		MergeListItems: c.ChunkMergeListItems,
		SplitOversized: c.ChunkSplitOversized,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma-separated list.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envMap reads comma-separated key:value pairs, e.g. "pdf:vlm,image:vlm".
func envMap(key string, fallback map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}
