package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docweave/internal/mcptool"
)

func newServeMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the convert, chunk, detect and formats tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tools := mcptool.New(a.Converter, a.Config.ChunkerConfig(), a.Log)
			srv := mcptool.NewServer(tools, version)
			a.Log.Info("serving mcp on stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
