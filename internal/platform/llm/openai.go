// Package llm is a minimal OpenAI chat-completions client that asks for a JSON
// object and returns it parsed. Nothing in this package logs prompts or
// completions.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnavailable means the client has no API key to call with.
	ErrUnavailable = errors.New("llm not configured")
	// ErrUpstream covers transport failures, non-200 responses and malformed
	// output.
	ErrUpstream = errors.New("llm upstream failure")
)

// Generator produces a JSON object from a system and user prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, error)
}

// Config holds connection settings for the OpenAI API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient calls /chat/completions with temperature 0 and JSON output.
type OpenAIClient struct {
	client *resty.Client
	model  string
	hasKey bool
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout)

	return &OpenAIClient{client: c, model: cfg.Model, hasKey: strings.TrimSpace(cfg.APIKey) != ""}
}

// Model returns the model name sent with each request.
func (o *OpenAIClient) Model() string { return o.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateJSON sends one stateless request. Upstream details are not carried
// in the returned error.
func (o *OpenAIClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, error) {
	if !o.hasKey {
		return nil, ErrUnavailable
	}
	reqBody := chatRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: request failed", ErrUpstream)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode())
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body(), &cr); err != nil || len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: unexpected response shape", ErrUpstream)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: completion is not a JSON object", ErrUpstream)
	}
	return out, nil
}
