package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errMissingAPIKey = errors.New("OPENROUTER_API_KEY is required")

type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	model       string
	temperature float64
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient builds a chat-completions client. The per-request timeout is not
// set here; callers bound each call through its context.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		httpClient:  httpClient,
		model:       cfg.Model,
		temperature: temperature,
	}, nil
}

// Chat sends one completion request. Failures of the call itself come back as
// a RequestError; a 2xx response without usable content wraps
// ErrMalformedResponse; cancellation of ctx by the caller is returned as is.
func (c *Client) Chat(ctx context.Context, requestID, systemPrompt, userPrompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err, time.Since(start))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, err, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{
			Status:     resp.StatusCode,
			Body:       truncateBody(string(respBody), 200),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return parsed.Choices[0].Message.Content, nil
}

func classifyTransport(ctx context.Context, err error, elapsed time.Duration) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return &TimeoutError{After: elapsed}
	case context.Canceled:
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{After: elapsed}
	}
	return &NetworkError{Err: err}
}

// parseRetryAfter reads a delta-seconds Retry-After value, allowing a
// fractional part, floored to whole milliseconds.
func parseRetryAfter(v string) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return nil
	}
	d := time.Duration(math.Floor(secs*1000)) * time.Millisecond
	return &d
}

func truncateBody(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
