package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/pipeline"
)

// urlRequest is the JSON body accepted in place of a multipart upload.
type urlRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Format string `json:"format"`
}

// readSources extracts the sources of a request: every "file" and "files"
// part of a multipart form, or a JSON body naming a URL. The returned
// cleanup must be called once the sources are no longer needed.
func (s *Server) readSources(w http.ResponseWriter, r *http.Request, maxFiles int) ([]pipeline.Source, func(), error) {
	noop := func() {}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req urlRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return nil, noop, fmt.Errorf("invalid json body: %w", err)
		}
		if req.URL == "" {
			return nil, noop, fmt.Errorf("url is required")
		}
		if err := r.ParseForm(); err != nil {
			return nil, noop, err
		}
		hint, err := parseHint(req.Format)
		if err != nil {
			return nil, noop, err
		}
		return []pipeline.Source{{URL: req.URL, Name: req.Name, Hint: hint}}, noop, nil
	}

	// Limit total request size, with 1MB per file for form overhead.
	limit := (s.cfg.MaxUploadBytes + 1<<20) * int64(maxFiles)
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, noop, fmt.Errorf("invalid multipart form: %w", err)
	}
	cleanup := func() { r.MultipartForm.RemoveAll() }

	hint, err := parseHint(r.FormValue("format"))
	if err != nil {
		return nil, cleanup, err
	}
	headers := slices.Concat(r.MultipartForm.File["file"], r.MultipartForm.File["files"])
	if len(headers) == 0 {
		return nil, cleanup, fmt.Errorf("file is required")
	}
	if len(headers) > maxFiles {
		return nil, cleanup, fmt.Errorf("at most %d files per request", maxFiles)
	}

	var sources []pipeline.Source
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, cleanup, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			return nil, cleanup, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			return nil, cleanup, errTooLarge{name: fh.Filename, max: s.cfg.MaxUploadBytes}
		}
		src := pipeline.SourceFromBytes(sanitizeFilename(fh.Filename), data)
		src.Hint = hint
		src.Password = r.FormValue("password")
		sources = append(sources, src)
	}
	return sources, cleanup, nil
}

type errTooLarge struct {
	name string
	max  int64
}

func (e errTooLarge) Error() string {
	return fmt.Sprintf("%s exceeds max size (%d bytes)", e.name, e.max)
}

func parseHint(s string) (detect.Format, error) {
	if s == "" {
		return "", nil
	}
	f, ok := detect.ParseFormat(s)
	if !ok {
		return "", fmt.Errorf("unknown format %q", s)
	}
	return f, nil
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
