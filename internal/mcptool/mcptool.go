// Package mcptool exposes conversion, chunking and detection as MCP tools.
package mcptool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dgallion1/docweave/internal/chunker"
	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/export"
	"github.com/dgallion1/docweave/internal/pipeline"
)

// Tools holds what the MCP tools call into.
type Tools struct {
	conv  *pipeline.Converter
	chunk chunker.Config
	log   *slog.Logger
}

// New creates the tool set. chunk holds the chunking defaults.
func New(conv *pipeline.Converter, chunk chunker.Config, log *slog.Logger) *Tools {
	return &Tools{conv: conv, chunk: chunk, log: log.With("component", "mcp")}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(t *Tools, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docweave", Version: version}, nil)
	t.Register(srv)
	return srv
}

// Register adds the docweave tools to srv.
func (t *Tools) Register(srv *mcp.Server) {
	t.registerConvert(srv)
	t.registerChunk(srv)
	t.registerDetect(srv)
	t.registerFormats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// sourceProps are the input properties shared by tools that read a document.
func sourceProps(extra map[string]any) map[string]any {
	props := map[string]any{
		"path":        map[string]any{"type": "string", "description": "Local file path"},
		"url":         map[string]any{"type": "string", "description": "HTTP(S) URL to fetch"},
		"content":     map[string]any{"type": "string", "description": "Inline text content; name decides the format"},
		"data_base64": map[string]any{"type": "string", "description": "Inline binary content, base64 encoded"},
		"name":        map[string]any{"type": "string", "description": "File name for inline content"},
		"format":      map[string]any{"type": "string", "description": "Explicit input format, checked against the content"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// addTool registers fn as a tool whose arguments decode into Req. Errors
// come back as tool errors rather than protocol errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		resp, err := fn(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

type sourceReq struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	Content    string `json:"content"`
	DataBase64 string `json:"data_base64"`
	Name       string `json:"name"`
	Format     string `json:"format"`
}

func (r *sourceReq) source() (pipeline.Source, error) {
	var src pipeline.Source
	switch {
	case r.Path != "":
		src.Path = r.Path
	case r.URL != "":
		src.URL = r.URL
	case r.Content != "":
		src.Data = []byte(r.Content)
	case r.DataBase64 != "":
		data, err := base64.StdEncoding.DecodeString(r.DataBase64)
		if err != nil {
			return src, fmt.Errorf("data_base64: %w", err)
		}
		src.Data = data
	default:
		return src, errors.New("one of path, url, content or data_base64 is required")
	}
	src.Name = r.Name
	if r.Format != "" {
		f, ok := detect.ParseFormat(r.Format)
		if !ok {
			return src, fmt.Errorf("unknown format %q", r.Format)
		}
		src.Hint = f
	}
	return src, nil
}

// --- convert ---

type convertReq struct {
	sourceReq
	To string `json:"to"`
}

type convertResp struct {
	ID      string               `json:"id"`
	Status  pipeline.Status      `json:"status"`
	Input   pipeline.Input       `json:"input"`
	Errors  []pipeline.ErrorItem `json:"errors"`
	Format  export.Format        `json:"format"`
	Content string               `json:"content"`
}

func (t *Tools) registerConvert(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docweave_convert",
		Description: "Convert a document (pdf, docx, pptx, xlsx, html, image, csv, md, asciidoc, text) and return it as markdown, json, yaml or text.",
		InputSchema: inputSchema(sourceProps(map[string]any{
			"to": map[string]any{"type": "string", "description": "Output format: markdown (default), json, yaml or text"},
		}), nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *convertReq) (any, error) {
		to := export.FormatMarkdown
		if r.To != "" {
			f, ok := export.ParseFormat(r.To)
			if !ok {
				return nil, fmt.Errorf("unknown output format %q", r.To)
			}
			to = f
		}
		src, err := r.source()
		if err != nil {
			return nil, err
		}
		res, err := t.conv.Convert(ctx, src)
		if err != nil {
			return nil, err
		}
		data, err := export.Render(res.Document, to)
		if err != nil {
			return nil, err
		}
		t.log.Info("converted", "name", res.Input.Name, "status", res.Status)
		return convertResp{
			ID:      res.ID,
			Status:  res.Status,
			Input:   res.Input,
			Errors:  res.Errors,
			Format:  to,
			Content: string(data),
		}, nil
	})
}

// --- chunk ---

type chunkReq struct {
	sourceReq
	MaxTokens      int   `json:"max_tokens"`
	MergeListItems *bool `json:"merge_list_items"`
	SplitOversized *bool `json:"split_oversized"`
}

type chunkOut struct {
	chunker.Chunk
	Contextualized string `json:"contextualized"`
}

func (t *Tools) registerChunk(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docweave_chunk",
		Description: "Convert a document and split it into heading-aware chunks sized for embedding.",
		InputSchema: inputSchema(sourceProps(map[string]any{
			"max_tokens":       map[string]any{"type": "integer", "description": "Token budget per chunk"},
			"merge_list_items": map[string]any{"type": "boolean", "description": "Keep whole lists together"},
			"split_oversized":  map[string]any{"type": "boolean", "description": "Split text that exceeds the budget on its own"},
		}), nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *chunkReq) (any, error) {
		src, err := r.source()
		if err != nil {
			return nil, err
		}
		cfg := t.chunk
		if r.MaxTokens > 0 {
			cfg.MaxTokens = r.MaxTokens
		}
		if r.MergeListItems != nil {
			cfg.MergeListItems = *r.MergeListItems
		}
		if r.SplitOversized != nil {
			cfg.SplitOversized = *r.SplitOversized
		}
		res, err := t.conv.Convert(ctx, src)
		if err != nil {
			return nil, err
		}
		ch := chunker.New(cfg)
		all, err := ch.All(res.Document)
		if err != nil {
			return nil, err
		}
		chunks := make([]chunkOut, 0, len(all))
		for _, c := range all {
			chunks = append(chunks, chunkOut{Chunk: c, Contextualized: ch.Contextualize(c)})
		}
		return map[string]any{
			"id":     res.ID,
			"status": res.Status,
			"chunks": chunks,
		}, nil
	})
}

// --- detect ---

func (t *Tools) registerDetect(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docweave_detect",
		Description: "Detect the format of a local file or inline content without converting it.",
		InputSchema: inputSchema(sourceProps(nil), nil),
	}
	addTool(srv, tool, func(_ context.Context, r *sourceReq) (any, error) {
		src, err := r.source()
		if err != nil {
			return nil, err
		}
		name := src.Name
		data := src.Data
		switch {
		case src.URL != "":
			return nil, errors.New("detect reads local or inline content only")
		case src.Path != "":
			if data, err = os.ReadFile(src.Path); err != nil {
				return nil, err
			}
			if name == "" {
				name = src.Path
			}
		}
		det, err := t.conv.Detect(name, data, src.Hint)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"detection": det}
		if det.Warning != nil {
			out["warning"] = det.Warning.Error()
		}
		return out, nil
	})
}

// --- formats ---

type noArgs struct{}

func (t *Tools) registerFormats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docweave_formats",
		Description: "List the accepted input formats with their pipelines, and the output formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(_ context.Context, _ *noArgs) (any, error) {
		opts := t.conv.Options()
		inputs := map[detect.Format]pipeline.Kind{}
		for _, f := range t.conv.Formats() {
			inputs[f] = opts.KindFor(f)
		}
		return map[string]any{"inputs": inputs, "outputs": export.Formats}, nil
	})
}
