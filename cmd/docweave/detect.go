package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docweave/internal/detect"
)

func newDetectCmd(g *globalFlags) *cobra.Command {
	var hint string
	cmd := &cobra.Command{
		Use:   "detect [flags] <file>...",
		Short: "Print the detected format of local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var h detect.Format
			if hint != "" {
				if h, err = parseHint(hint); err != nil {
					return err
				}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tFORMAT\tMIME\tVIA\tCONFIDENCE")
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				det, err := a.Converter.Detect(path, data, h)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				if det.Warning != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: warning: %v\n", path, det.Warning)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\n", path, det.Format, det.MimeType, det.Via, det.Confidence)
			}
			tw.Flush()
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be detected", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&hint, "format", "f", "", "expected format, checked against the content")
	return cmd
}
