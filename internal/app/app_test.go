package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docweave/internal/config"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/pipeline"
	"github.com/dgallion1/docweave/internal/vlm"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func noBinaries(t *testing.T) {
	old := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(func() { lookPath = old })
}

func TestNew_DefaultsWithCache(t *testing.T) {
	noBinaries(t)
	cfg := config.Default()
	cfg.CachePath = filepath.Join(t.TempDir(), "cache.db")

	a, err := New(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Converter)
	require.NotNil(t, a.Cache)
	assert.Nil(t, a.VLMStats)

	src := pipeline.SourceFromBytes("notes.md", []byte("# Hi\n\nThere.\n"))
	first, err := a.Converter.Convert(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	second, err := a.Converter.Convert(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.Cached)
}

func TestNew_VLM(t *testing.T) {
	noBinaries(t)
	cfg := config.Default()
	cfg.Pipelines = map[string]string{"pdf": "vlm"}
	cfg.VLMEndpoint = "http://localhost:11434/v1"

	a, err := New(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.VLMStats)
	assert.Equal(t, pipeline.KindVLM, a.Converter.Options().KindFor("pdf"))
}

func TestNew_RemoteModelNeedsOptIn(t *testing.T) {
	noBinaries(t)
	cfg := config.Default()
	cfg.Pipelines = map[string]string{"image": "vlm"}
	cfg.VLMEndpoint = "https://models.example.com/v1"

	_, err := New(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidConfig, errs.KindOf(err))

	cfg.EnableRemoteServices = true
	a, err := New(context.Background(), cfg, discard())
	require.NoError(t, err)
	a.Close()
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Device = "abacus"
	_, err := New(context.Background(), cfg, discard())
	assert.Equal(t, errs.KindInvalidConfig, errs.KindOf(err))
}

func TestNewModel(t *testing.T) {
	cfg := config.Default()
	cfg.VLMEndpoint = "http://localhost:8000/generate"
	cfg.VLMProvider = "remote"
	_, ok := newModel(cfg).(*vlm.RemoteClient)
	assert.True(t, ok)

	cfg.VLMProvider = "openai"
	_, ok = newModel(cfg).(*vlm.OpenAIClient)
	assert.True(t, ok)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(&buf, "bogus").Info("info is the fallback")
	assert.Contains(t, buf.String(), "info is the fallback")
}
