package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docweave/internal/chunker"
)

func newChunkCmd(g *globalFlags) *cobra.Command {
	var (
		hint           string
		name           string
		maxTokens      int
		splitOversized bool
		separateItems  bool
	)
	cmd := &cobra.Command{
		Use:   "chunk [flags] <file|url|->",
		Short: "Convert a document and print its chunks as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := sourceFor(cmd, args[0], name, hint)
			if err != nil {
				return err
			}
			res, err := a.Converter.Convert(cmd.Context(), src)
			if err != nil {
				return err
			}

			cfg := a.Config.ChunkerConfig()
			if maxTokens > 0 {
				cfg.MaxTokens = maxTokens
			}
			if splitOversized {
				cfg.SplitOversized = true
			}
			if separateItems {
				cfg.MergeListItems = false
			}
			ch := chunker.New(cfg)
			all, err := ch.All(res.Document)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			for _, c := range all {
				line := struct {
					chunker.Chunk
					Contextualized string `json:"contextualized"`
				}{c, ch.Contextualize(c)}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&hint, "format", "f", "", "input format, checked against the content")
	f.StringVar(&name, "name", "", "document name for stdin input")
	f.IntVar(&maxTokens, "max-tokens", 0, "token budget per chunk (default from config)")
	f.BoolVar(&splitOversized, "split-oversized", false, "split text that exceeds the budget on its own")
	f.BoolVar(&separateItems, "separate-list-items", false, "chunk list items individually")
	return cmd
}
