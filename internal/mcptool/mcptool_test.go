package mcptool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docweave/internal/chunker"
	"github.com/dgallion1/docweave/internal/pipeline"
)

const sampleMarkdown = "# Title\n\nFirst paragraph.\n\n## Part\n\n- one\n- two\n"

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	conv, err := pipeline.NewConverter(pipeline.DefaultOptions(), pipeline.Deps{}, log)
	require.NoError(t, err)
	srv := NewServer(New(conv, chunker.DefaultConfig(), log), "test")

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "docweave-test", Version: "0.1.0"}, nil)
	s, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		cancel()
	})
	return s
}

func call(t *testing.T, s *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text, res.IsError
}

func TestMCP_ListTools(t *testing.T) {
	s := session(t)
	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"docweave_convert", "docweave_chunk", "docweave_detect", "docweave_formats"}, names)
}

func TestMCP_Convert(t *testing.T) {
	s := session(t)
	text, isErr := call(t, s, "docweave_convert", map[string]any{"content": sampleMarkdown, "name": "notes.md"})
	require.False(t, isErr, text)

	var resp convertResp
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, pipeline.StatusSuccess, resp.Status)
	assert.Contains(t, resp.Content, "# Title\n\nFirst paragraph.")
	assert.NotEmpty(t, resp.ID)
}

func TestMCP_ConvertPathToJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleMarkdown), 0o600))

	s := session(t)
	text, isErr := call(t, s, "docweave_convert", map[string]any{"path": path, "to": "json"})
	require.False(t, isErr, text)

	var resp convertResp
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Contains(t, resp.Content, `"schema_version": "docweave/1"`)
	assert.Equal(t, "notes.md", resp.Input.Name)
}

func TestMCP_ConvertErrors(t *testing.T) {
	s := session(t)

	text, isErr := call(t, s, "docweave_convert", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "required")

	text, isErr = call(t, s, "docweave_convert", map[string]any{"content": "x", "name": "a.md", "to": "pdf"})
	assert.True(t, isErr)
	assert.Contains(t, text, "unknown output format")

	text, isErr = call(t, s, "docweave_convert", map[string]any{"data_base64": "AAEC/w==", "name": "blob.bin"})
	assert.True(t, isErr)
	assert.Contains(t, text, "unsupported_format")
}

func TestMCP_Chunk(t *testing.T) {
	s := session(t)
	text, isErr := call(t, s, "docweave_chunk", map[string]any{"content": sampleMarkdown, "name": "notes.md", "max_tokens": 64})
	require.False(t, isErr, text)

	var resp struct {
		Status pipeline.Status `json:"status"`
		Chunks []chunkOut      `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, []string{"Title"}, resp.Chunks[0].Headings)
	assert.Equal(t, "Title\nFirst paragraph.", resp.Chunks[0].Contextualized)
	assert.Equal(t, []string{"Title", "Part"}, resp.Chunks[1].Headings)
	assert.Equal(t, 1, resp.Chunks[1].Index)
}

func TestMCP_Detect(t *testing.T) {
	s := session(t)
	text, isErr := call(t, s, "docweave_detect", map[string]any{"content": "%PDF-1.7\n", "name": "x.pdf"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"format":"pdf"`)

	text, isErr = call(t, s, "docweave_detect", map[string]any{"url": "http://example.com/a.pdf"})
	assert.True(t, isErr, text)
}

func TestMCP_Formats(t *testing.T) {
	s := session(t)
	text, isErr := call(t, s, "docweave_formats", map[string]any{})
	require.False(t, isErr, text)

	var resp struct {
		Inputs  map[string]string `json:"inputs"`
		Outputs []string          `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "standard_pdf", resp.Inputs["pdf"])
	assert.Equal(t, "simple", resp.Inputs["docx"])
	assert.ElementsMatch(t, []string{"markdown", "json", "yaml", "text"}, resp.Outputs)
}
