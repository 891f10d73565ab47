package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docweave/internal/export"
	"github.com/dgallion1/docweave/internal/pipeline"
)

func newConvertCmd(g *globalFlags) *cobra.Command {
	var (
		to       string
		outDir   string
		hint     string
		name     string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "convert [flags] <file|url|->...",
		Short: "Convert documents and write them in an export format",
		Long: "Convert documents and write them in an export format. A single input\n" +
			"is written to stdout unless --output is set; several inputs need --output.\n" +
			"A failed input does not stop the others.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, ok := export.ParseFormat(to)
			if !ok {
				return fmt.Errorf("unknown output format %q", to)
			}
			if len(args) > 1 && outDir == "" {
				return fmt.Errorf("converting %d inputs needs --output", len(args))
			}
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sources := make([]pipeline.Source, 0, len(args))
			for _, arg := range args {
				src, err := sourceFor(cmd, arg, name, hint)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}

			results := a.Converter.ConvertAll(cmd.Context(), sources, parallel)
			names := outputNames{}
			failed := 0
			for _, res := range results {
				for _, w := range res.Warnings() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: warning: %s: %s\n", res.Input.Name, w.Stage, w.Message)
				}
				if err := res.Err(); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Input.Name, err)
					continue
				}
				if err := writeResult(cmd, res, format, outDir, names); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Input.Name, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions failed", failed, len(results))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&to, "to", "t", "markdown", "output format: markdown, json, yaml, text")
	f.StringVarP(&outDir, "output", "o", "", "directory to write outputs into")
	f.StringVarP(&hint, "format", "f", "", "input format, checked against the content")
	f.StringVar(&name, "name", "", "document name for stdin input")
	f.IntVarP(&parallel, "parallel", "p", 4, "documents converted at once")
	return cmd
}

func writeResult(cmd *cobra.Command, res *pipeline.ConversionResult, format export.Format, outDir string, names outputNames) error {
	data, err := export.Render(res.Document, format)
	if err != nil {
		return err
	}
	if outDir == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(outDir, names.claim(res.Input.Name, format.Extension()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%s)\n", res.Input.Name, path, res.Status)
	return nil
}

// outputNames hands out file names within one output directory. Inputs that
// share a base name get a numeric suffix in input order.
type outputNames map[string]bool

func (n outputNames) claim(input, ext string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if base == "" || base == "." {
		base = "document"
	}
	name := base + ext
	for i := 2; n[strings.ToLower(name)]; i++ {
		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	n[strings.ToLower(name)] = true
	return name
}
