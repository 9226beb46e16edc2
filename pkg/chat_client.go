package pkg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Completion provider failures, classified for the orchestrator.
var (
	ErrTimeout         = errors.New("completion timed out")
	ErrRateLimited     = errors.New("completion rate limited")
	ErrProvider        = errors.New("completion provider error")
	ErrEmptyCompletion = errors.New("completion returned no content")
)

type RequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []RequestMessage `json:"messages"`
	MaxTokens   uint32           `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
	Stream      *bool            `json:"stream,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	User        *string          `json:"user,omitempty"`
}

type ChatChoice struct {
	Index        uint32          `json:"index"`
	Message      ResponseMessage `json:"message"`
	Delta        ResponseMessage `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatClient talks to an OpenAI-compatible chat completion endpoint.
type ChatClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewChatClient(baseURL, apiKey string) *ChatClient {
	return &ChatClient{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (c *ChatClient) post(ctx context.Context, endpoint string, body interface{}) (*http.Response, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(bodyBytes))
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}

// CreateChatCompletion handles non-streaming responses
func (c *ChatClient) CreateChatCompletion(ctx context.Context, request ChatCompletionRequest) (*ChatCompletionResponse, error) {
	resp, err := c.post(ctx, "chat/completions", request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrProvider, err)
	}

	var response ChatCompletionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrProvider, err)
	}

	return &response, nil
}

// CreateChatCompletionStream handles streaming responses
func (c *ChatClient) CreateChatCompletionStream(ctx context.Context, request ChatCompletionRequest, handler func(ChatCompletionResponse) error) error {
	// Ensure stream is set to true
	streamTrue := true
	request.Stream = &streamTrue

	resp, err := c.post(ctx, "chat/completions", request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		// Skip empty lines or non-data lines
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		// Check for stream end
		if line == "data: [DONE]" {
			break
		}

		jsonData := line[6:] // Remove "data: " prefix
		var response ChatCompletionResponse
		if err := json.Unmarshal([]byte(jsonData), &response); err != nil {
			return fmt.Errorf("%w: failed to unmarshal stream chunk: %v", ErrProvider, err)
		}

		if err := handler(response); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: error reading stream: %v", ErrProvider, err)
	}

	return nil
}

// Complete runs one streaming completion and returns the accumulated
// assistant text. Each delta chunk is also forwarded to onDelta when the
// callback is non-nil.
func (c *ChatClient) Complete(ctx context.Context, model string, messages []RequestMessage, onDelta func(string)) (string, error) {
	req := ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}

	var full strings.Builder
	err := c.CreateChatCompletionStream(ctx, req, func(resp ChatCompletionResponse) error {
		for _, choice := range resp.Choices {
			chunk := choice.Delta.Content
			if chunk == "" {
				chunk = choice.Message.Content
			}
			if chunk == "" {
				continue
			}
			full.WriteString(chunk)
			if onDelta != nil {
				onDelta(chunk)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if full.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return full.String(), nil
}
