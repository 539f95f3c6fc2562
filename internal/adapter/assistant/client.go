// Package assistant calls the hosted AI assistant and multimodal
// transcription APIs.
package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultPoll        = time.Second
	defaultTimeout     = 2 * time.Minute
	defaultModel       = "gpt-4o"
	defaultMaxTokens   = 300
	transcriptionInput = "Please transcribe the handwritten text in this image."
	cancelGrace        = 5 * time.Second
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("assistant api key not configured")

// Options configures a Client.
type Options struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	Model        string
	MaxTokens    int
}

// Client is the HTTP implementation of the assistant and transcription calls.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *zap.Logger
}

// NewClient constructs a Client, filling zero options with defaults.
func NewClient(httpClient *http.Client, opts Options, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{httpClient: httpClient, opts: opts, logger: logger}
}

// RequestFeedback runs a feedback task and waits for its result.
func (c *Client) RequestFeedback(ctx context.Context, assistantID, prompt string) Result {
	return c.StartFeedback(ctx, assistantID, prompt).Wait(ctx)
}

// Transcribe returns the text found in an essay image.
func (c *Client) Transcribe(ctx context.Context, image []byte, contentType string) (string, error) {
	if c.opts.APIKey == "" {
		return "", ErrNotConfigured
	}
	if len(image) == 0 {
		return "", fmt.Errorf("transcribe: empty image")
	}
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}

	payload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: transcriptionInput},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		MaxTokens: c.opts.MaxTokens,
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", payload, &resp, false); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("transcribe: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// roundTrip creates a thread, posts prompt, runs the assistant and polls the
// run until it reaches a terminal state.
func (c *Client) roundTrip(ctx context.Context, assistantID, prompt string, started func(threadID, runID string)) (string, error) {
	var thread idResponse
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &thread, true); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	msg := map[string]string{"role": "user", "content": prompt}
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(thread.ID)+"/messages", msg, nil, true); err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	var run runResponse
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(thread.ID)+"/runs", map[string]string{"assistant_id": assistantID}, &run, true); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if started != nil {
		started(thread.ID, run.ID)
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		switch run.Status {
		case "completed":
			return c.latestReply(ctx, thread.ID)
		case "failed", "cancelled", "expired", "incomplete":
			if run.LastError != nil && run.LastError.Message != "" {
				return "", fmt.Errorf("run %s: %s", run.Status, run.LastError.Message)
			}
			return "", fmt.Errorf("run %s", run.Status)
		case "requires_action":
			return "", fmt.Errorf("run requires tool output")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		path := "/threads/" + url.PathEscape(thread.ID) + "/runs/" + url.PathEscape(run.ID)
		if err := c.do(ctx, http.MethodGet, path, nil, &run, true); err != nil {
			return "", fmt.Errorf("poll run: %w", err)
		}
	}
}

func (c *Client) latestReply(ctx context.Context, threadID string) (string, error) {
	var list messageList
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=20"
	if err := c.do(ctx, http.MethodGet, path, nil, &list, true); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, m := range list.Data {
		if m.Role != "assistant" {
			continue
		}
		var sb strings.Builder
		for _, part := range m.Content {
			if part.Type == "text" && part.Text != nil {
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(part.Text.Value)
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", fmt.Errorf("no assistant reply")
}

func (c *Client) cancelRun(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil, true); err != nil {
		c.logger.Warn("cancel assistant run failed", zap.String("thread_id", threadID), zap.String("run_id", runID), zap.Error(err))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, beta bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if beta {
		req.Header.Set("OpenAI-Beta", "assistants=v2")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("status=%d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type idResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"data"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
