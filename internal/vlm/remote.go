package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// RemoteClient calls an inference server that accepts
// {"params", "prompt", "response_format"} and answers with the page markup.
type RemoteClient struct {
	endpoint   string
	headers    map[string]string
	params     map[string]any
	httpClient *http.Client
}

// RemoteOptions configure a RemoteClient.
type RemoteOptions struct {
	// Headers are sent with every request, e.g. Authorization.
	Headers map[string]string
	// Params are model parameters merged into every request's params.
	Params  map[string]any
	Timeout time.Duration
}

func NewRemoteClient(endpoint string, opts RemoteOptions) *RemoteClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RemoteClient{
		endpoint: endpoint,
		headers:  opts.Headers,
		params:   opts.Params,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *RemoteClient) Name() string { return "remote" }
func (c *RemoteClient) Remote() bool { return true }

type remoteRequest struct {
	Params         map[string]any `json:"params"`
	Prompt         string         `json:"prompt"`
	ResponseFormat ResponseFormat `json:"response_format"`
}

type remoteResponse struct {
	Text    string `json:"text"`
	Content string `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate posts one page. The image travels base64-encoded in
// params.image. 429 and 5xx answers come back as *RetryableError.
func (c *RemoteClient) Generate(ctx context.Context, req Request) (string, error) {
	params := make(map[string]any, len(c.params)+3)
	maps.Copy(params, c.params)
	params["image"] = base64.StdEncoding.EncodeToString(req.Image)
	params["image_mime_type"] = req.MimeType
	params["page"] = req.Page

	body, err := json.Marshal(remoteRequest{Params: params, Prompt: req.Prompt, ResponseFormat: req.Format})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	respBody, status, err := doRequest(c.httpClient, httpReq)
	if err != nil {
		return "", err
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return "", &RetryableError{StatusCode: status, Message: string(respBody)}
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("vlm api status %d: %s", status, truncate(string(respBody), 200))
	}

	var apiResp remoteResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		// Plain-text answers are accepted as is.
		return stripCodeBlock(string(respBody)), nil
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("vlm error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	text := apiResp.Text
	if text == "" {
		text = apiResp.Content
	}
	return stripCodeBlock(text), nil
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("vlm api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases resources.
func (c *RemoteClient) Close() {
	c.httpClient.CloseIdleConnections()
}
