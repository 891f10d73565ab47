package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docweave/internal/config"
	"github.com/dgallion1/docweave/internal/pipeline"
)

const (
	testKey      = "test-key"
	testMarkdown = "# Title\n\nFirst paragraph.\n\n## Part\n\n- one\n- two\n"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.APIKey = testKey
	cfg.MaxUploadBytes = 1 << 20
	if mutate != nil {
		mutate(&cfg)
	}
	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatal(err)
	}
	conv, err := pipeline.NewConverter(opts, pipeline.Deps{}, log)
	if err != nil {
		t.Fatal(err)
	}
	orch := pipeline.NewOrchestrator(conv, pipeline.QueueConfig{Workers: 1, MaxQueueSize: 4, JobTTL: time.Minute}, log)
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})
	return NewServer(orch, nil, nil, log, cfg)
}

func upload(t *testing.T, path, name string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/formats", nil)
	if rec := do(s, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/formats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if rec := do(s, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}
}

func TestConvert_JSON(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/convert", "notes.md", []byte(testMarkdown), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	out := decode(t, rec)
	if out["status"] != "success" || out["format"] != "json" {
		t.Errorf("unexpected result: %v", out)
	}
	doc, ok := out["document"].(map[string]any)
	if !ok {
		t.Fatalf("document missing: %v", out)
	}
	if doc["schema_version"] != "docweave/1" {
		t.Errorf("schema_version = %v", doc["schema_version"])
	}
	input := out["input"].(map[string]any)
	if det := input["detection"].(map[string]any); det["format"] != "md" {
		t.Errorf("detected %v", det["format"])
	}
}

func TestConvert_Markdown(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/convert?to=markdown", "notes.md", []byte(testMarkdown), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	out := decode(t, rec)
	content, _ := out["content"].(string)
	if !strings.HasPrefix(content, "# Title\n\nFirst paragraph.") {
		t.Errorf("content = %q", content)
	}
}

func TestConvert_Raw(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/convert", "notes.md", []byte(testMarkdown), map[string]string{"to": "md", "raw": "true"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "- one\n- two") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Conversion-Status") != "success" {
		t.Errorf("status header = %q", rec.Header().Get("X-Conversion-Status"))
	}
}

func TestConvert_Errors(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.MaxUploadBytes = 64 })

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unsupported", upload(t, "/v1/convert", "blob.bin", []byte{0, 1, 0xff}, nil), http.StatusUnsupportedMediaType},
		{"too large", upload(t, "/v1/convert", "big.md", bytes.Repeat([]byte("a"), 100), nil), http.StatusRequestEntityTooLarge},
		{"bad export format", upload(t, "/v1/convert?to=pdf", "notes.md", []byte("# hi\n"), nil), http.StatusBadRequest},
		{"bad hint", upload(t, "/v1/convert", "notes.md", []byte("# hi\n"), map[string]string{"format": "exe"}), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/convert", strings.NewReader("not a form"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	if rec := do(s, req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing form: status = %d", rec.Code)
	}
}

func TestConvertAsync_AndPoll(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/convert/async", "notes.md", []byte(testMarkdown), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	jobs := decode(t, rec)["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %v", jobs)
	}
	pollURL := jobs[0].(map[string]any)["poll_url"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, pollURL+"?to=text", nil)
		req.Header.Set("Authorization", "Bearer "+testKey)
		rec := do(s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll status = %d", rec.Code)
		}
		out := decode(t, rec)
		job := out["job"].(map[string]any)
		if job["status"] == "done" {
			result := out["result"].(map[string]any)
			if result["status"] != "success" || !strings.HasPrefix(result["content"].(string), "#/nodes/0") {
				t.Errorf("result = %v", result)
			}
			return
		}
		if job["status"] == "failed" || time.Now().After(deadline) {
			t.Fatalf("job did not finish: %v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJob_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if rec := do(s, req); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChunk(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/chunk", "notes.md", []byte(testMarkdown), map[string]string{"max_tokens": "64"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	out := decode(t, rec)
	if out["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v", out["max_tokens"])
	}
	chunks := out["chunks"].([]any)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	first := chunks[0].(map[string]any)
	if first["text"] != "First paragraph." || first["contextualized"] != "Title\nFirst paragraph." {
		t.Errorf("first chunk = %v", first)
	}
	second := chunks[1].(map[string]any)
	if second["text"] != "- one\n- two" {
		t.Errorf("second chunk = %v", second)
	}
}

func TestDetect(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, upload(t, "/v1/detect", "report.pdf", []byte("%PDF-1.7\n%...."), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	det := decode(t, rec)["detection"].(map[string]any)
	if det["format"] != "pdf" {
		t.Errorf("format = %v", det["format"])
	}
}

func TestFormatsAndStats(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.AllowedFormats = []string{"md", "pdf"} })

	req := httptest.NewRequest(http.MethodGet, "/v1/formats", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	inputs := out["inputs"].([]any)
	if len(inputs) != 2 {
		t.Errorf("inputs = %v", inputs)
	}
	if outputs := out["outputs"].([]any); len(outputs) != 4 {
		t.Errorf("outputs = %v", outputs)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec = do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	stats := decode(t, rec)
	if _, ok := stats["queue_depth"]; !ok {
		t.Errorf("stats = %v", stats)
	}
	if _, ok := stats["vlm"]; ok {
		t.Error("vlm stats reported without a model")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"a/b/report.pdf":   "report.pdf",
		"":                 "unnamed",
		"..":               "_",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
