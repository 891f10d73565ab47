package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
)

// Source is one input to convert: a local path, a URL, or bytes with a
// name. Exactly one of Path, URL and Data is used, in that order.
type Source struct {
	Path string
	URL  string
	Data []byte
	// Name is used for extension-based detection and as the document
	// name. It defaults to the base of Path or URL.
	Name string
	// Hint is an explicit format, checked against the content.
	Hint     detect.Format
	Password string
}

// SourceFromBytes is a convenience for in-memory inputs.
func SourceFromBytes(name string, data []byte) Source {
	return Source{Name: name, Data: data}
}

func (s Source) name() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return filepath.Base(s.Path)
	case s.URL != "":
		if u, err := url.Parse(s.URL); err == nil && u.Path != "" && u.Path != "/" {
			return path.Base(u.Path)
		}
		return s.URL
	}
	return "document"
}

// load reads the source. At most limit+1 bytes are read so oversized
// inputs can be rejected without buffering all of them.
func (s Source) load(ctx context.Context, client *http.Client, limit int64) ([]byte, error) {
	switch {
	case s.Path != "":
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, openError(err)
		}
		defer f.Close()
		return readLimited(f, limit)
	case s.URL != "":
		return s.fetch(ctx, client, limit)
	case s.Data != nil:
		return s.Data, nil
	}
	return nil, errs.Newf(errs.KindInvalidConfig, "load", "source has no path, url or data")
}

func (s Source) fetch(ctx context.Context, client *http.Client, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, errs.New(errs.KindInvalidConfig, "fetch", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindCancelled, "fetch", ctx.Err())
		}
		return nil, errs.New(errs.KindCorruptInput, "fetch", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.Newf(errs.KindAccessDenied, "fetch", "%s returned %d", s.URL, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errs.Newf(errs.KindCorruptInput, "fetch", "%s returned %d", s.URL, resp.StatusCode)
	}
	return readLimited(resp.Body, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New(errs.KindCorruptInput, "read", err)
	}
	return data, nil
}

func openError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return errs.New(errs.KindAccessDenied, "open", err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.New(errs.KindCorruptInput, "open", fmt.Errorf("no such file: %w", err))
	}
	return errs.New(errs.KindCorruptInput, "open", err)
}
