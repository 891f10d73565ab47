package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docweave/internal/app"
	"github.com/dgallion1/docweave/internal/config"
	"github.com/dgallion1/docweave/internal/pipeline"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	policy     string
	pipelines  []string
	noOCR      bool
	forceOCR   bool
	noTables   bool
	remote     bool
	cachePath  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "docweave",
		Short:         "Convert documents into structured markdown, json, yaml and chunks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file (overrides DOCWEAVE_CONFIG)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.policy, "mismatch-policy", "", "what to do when --format contradicts the content: fail or warn")
	pf.StringSliceVar(&g.pipelines, "pipeline", nil, "pipeline per format, e.g. pdf=vlm (repeatable)")
	pf.BoolVar(&g.noOCR, "no-ocr", false, "disable OCR")
	pf.BoolVar(&g.forceOCR, "force-ocr", false, "OCR every page, replacing the text layer")
	pf.BoolVar(&g.noTables, "no-tables", false, "disable table structure recovery")
	pf.BoolVar(&g.remote, "enable-remote-services", false, "allow models reached over the network")
	pf.StringVar(&g.cachePath, "cache", "", "SQLite result cache path")

	root.AddCommand(
		newConvertCmd(g),
		newChunkCmd(g),
		newDetectCmd(g),
		newServeMCPCmd(g),
	)
	return root
}

// load resolves configuration from file, environment and flags.
func (g *globalFlags) load() (config.Config, error) {
	if g.configPath != "" {
		os.Setenv("DOCWEAVE_CONFIG", g.configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.policy != "" {
		cfg.MismatchPolicy = g.policy
	}
	for _, p := range g.pipelines {
		format, kind, ok := strings.Cut(p, "=")
		if !ok {
			return cfg, fmt.Errorf("--pipeline %q: want format=kind", p)
		}
		if cfg.Pipelines == nil {
			cfg.Pipelines = map[string]string{}
		}
		cfg.Pipelines[format] = kind
	}
	if g.noOCR {
		cfg.DoOCR = false
	}
	if g.forceOCR {
		cfg.ForceFullPageOCR = true
	}
	if g.noTables {
		cfg.DoTableStructure = false
	}
	if g.remote {
		cfg.EnableRemoteServices = true
	}
	if g.cachePath != "" {
		cfg.CachePath = g.cachePath
	}
	return cfg, nil
}

// open builds the converter. Logs go to stderr so stdout stays clean for
// exported output.
func (g *globalFlags) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	if g.logLevel == "" && os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	log := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	return app.New(cmd.Context(), cfg, log)
}

// sourceFor turns a command-line argument into a source. "-" reads stdin.
func sourceFor(cmd *cobra.Command, arg, name, hint string) (pipeline.Source, error) {
	var src pipeline.Source
	switch {
	case arg == "-":
		data, err := readAll(cmd.InOrStdin())
		if err != nil {
			return src, err
		}
		src.Data = data
		src.Name = "stdin"
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		src.URL = arg
	default:
		src.Path = arg
	}
	if name != "" {
		src.Name = name
	}
	if hint != "" {
		f, err := parseHint(hint)
		if err != nil {
			return src, err
		}
		src.Hint = f
	}
	return src, nil
}
