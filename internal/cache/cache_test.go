package cache

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docweave/internal/doctree"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleDoc() *doctree.Document {
	doc := doctree.New("report.md")
	doc.Origin = doctree.Origin{Filename: "report.md", Format: "md", Hash: "abc"}
	h := doc.AddHeading(doctree.RootID, "Summary", 1)
	doc.AddText(h, doctree.LabelParagraph, "Revenue grew.")
	return doc
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleDoc()
	require.NoError(t, c.Put(ctx, "k1", want))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Origin, got.Origin)
	require.Len(t, got.Nodes, len(want.Nodes))
	assert.Equal(t, "Revenue grew.", got.Nodes[2].Text())

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Positive(t, stats.Bytes)
}

func TestCache_PutReplaces(t *testing.T) {
	ctx := context.Background()
	c, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "k", sampleDoc()))
	other := doctree.New("other.md")
	other.AddText(doctree.RootID, doctree.LabelParagraph, "replaced")
	require.NoError(t, c.Put(ctx, "k", other))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "other.md", got.Name)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.db.Exec(`INSERT INTO documents (key, body, created_at) VALUES ('bad', 'not json', 0)`)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestCache_Purge(t *testing.T) {
	ctx := context.Background()
	c, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	defer c.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Put(ctx, "old", sampleDoc()))
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, c.Put(ctx, "new", sampleDoc()))

	n, err := c.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, _ := c.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestCache_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", sampleDoc()))
	require.NoError(t, c.Close())

	c, err = Open(path, testLogger())
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
