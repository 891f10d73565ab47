// Package app wires configuration into a ready converter with its OCR,
// model and cache backends.
package app

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dgallion1/docweave/internal/cache"
	"github.com/dgallion1/docweave/internal/config"
	"github.com/dgallion1/docweave/internal/ocr"
	"github.com/dgallion1/docweave/internal/pipeline"
	"github.com/dgallion1/docweave/internal/vlm"
)

// App is a configured converter and the resources it owns.
type App struct {
	Config    config.Config
	Converter *pipeline.Converter
	Cache     *cache.Cache
	VLMStats  *vlm.Stats
	Log       *slog.Logger
}

var lookPath = exec.LookPath

// NewLogger returns a JSON logger at the named level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// New validates cfg and builds the converter.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log}
	deps := pipeline.Deps{}

	if bin := orDefault(cfg.PdftoppmBinary, "pdftoppm"); available(bin) {
		deps.Rasterizer = &ocr.Pdftoppm{Binary: bin}
	} else {
		log.Warn("pdftoppm not found, scanned pdf pages cannot be rasterized", "binary", bin)
	}
	if cfg.DoOCR {
		if bin := orDefault(cfg.TesseractBinary, "tesseract"); available(bin) {
			deps.OCR = &ocr.Tesseract{Binary: bin, Languages: cfg.OCRLanguages, Threads: cfg.Threads}
		} else {
			log.Warn("tesseract not found", "binary", bin)
		}
	}
	if cfg.UsesVLM() {
		a.VLMStats = vlm.NewStats(time.Hour)
		deps.VLM = newModel(cfg)
		deps.VLMStats = a.VLMStats
	}
	if cfg.CachePath != "" {
		c, err := cache.Open(cfg.CachePath, log)
		if err != nil {
			return nil, err
		}
		if cfg.CacheTTL > 0 {
			if _, err := c.Purge(ctx, cfg.CacheTTL); err != nil {
				log.Warn("cache purge failed", "error", err)
			}
		}
		a.Cache = c
		deps.Cache = c
	}

	conv, err := pipeline.NewConverter(opts, deps, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Converter = conv
	return a, nil
}

// Close releases the cache database.
func (a *App) Close() error {
	if a.Cache != nil {
		return a.Cache.Close()
	}
	return nil
}

func newModel(cfg config.Config) vlm.Model {
	if cfg.VLMProvider == "remote" {
		headers := map[string]string{}
		if cfg.VLMAPIKey != "" {
			headers["Authorization"] = "Bearer " + cfg.VLMAPIKey
		}
		params := map[string]any{}
		if cfg.VLMModel != "" {
			params["model"] = cfg.VLMModel
		}
		return vlm.NewRemoteClient(cfg.VLMEndpoint, vlm.RemoteOptions{
			Headers: headers,
			Params:  params,
			Timeout: cfg.VLMTimeout,
		})
	}
	return vlm.NewOpenAIClient(vlm.OpenAIOptions{
		BaseURL: cfg.VLMEndpoint,
		APIKey:  cfg.VLMAPIKey,
		Model:   cfg.VLMModel,
		Timeout: cfg.VLMTimeout,
	})
}

func available(bin string) bool {
	_, err := lookPath(bin)
	return err == nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
