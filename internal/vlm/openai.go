package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient reads pages through an OpenAI-compatible chat completions
// endpoint (OpenAI, vLLM, Ollama, LM Studio), sending the page as an
// image_url content part.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	remote     bool
}

// OpenAIOptions configure an OpenAIClient.
type OpenAIOptions struct {
	BaseURL   string // e.g. http://localhost:11434/v1
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	return &OpenAIClient{
		baseURL:    base,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
		remote:     !isLocalURL(base),
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.model }

// Remote is false for servers on the loopback interface.
func (c *OpenAIClient) Remote() bool { return c.remote }

func isLocalURL(u string) bool {
	for _, host := range []string{"://localhost", "://127.0.0.1", "://[::1]"} {
		if strings.Contains(u, host) {
			return true
		}
	}
	return false
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	mime := req.MimeType
	if mime == "" {
		mime = "image/png"
	}
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	respBody, status, err := doRequest(c.httpClient, httpReq)
	if err != nil {
		return "", err
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return "", &RetryableError{StatusCode: status, Message: string(respBody)}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("chat completions status %d: %s", status, truncate(string(respBody), 200))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completions error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return stripCodeBlock(resp.Choices[0].Message.Content), nil
}

// Close releases resources.
func (c *OpenAIClient) Close() {
	c.httpClient.CloseIdleConnections()
}
