// Package generation rewrites a transcript into written text through an
// OpenAI-compatible chat completions API.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rohits-web03/memoscribe/internal/apperr"
)

const DefaultSystemPrompt = "Rewrite the following voice memo transcript as clear, well structured written text."

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

type OpenAIClient struct {
	http         *http.Client
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	now          func() time.Time
}

func NewOpenAIClient(hc *http.Client, cfg Config) *OpenAIClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &OpenAIClient{
		http:         hc,
		apiKey:       cfg.APIKey,
		baseURL:      base,
		model:        model,
		systemPrompt: system,
		now:          time.Now,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.MissingPrompt()
	}

	data, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", apperr.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", apperr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.GenerationService(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperr.GenerationService(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return "", apperr.RateLimited(wait, fmt.Errorf("generation http 429: %s", strings.TrimSpace(string(body))))
	case resp.StatusCode >= 300:
		return "", apperr.GenerationService(fmt.Errorf("generation http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperr.GenerationService(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", apperr.GenerationService(fmt.Errorf("empty completion"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable values
// yield zero, leaving the caller's own backoff in charge.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Stub echoes a fixed text for any non-empty prompt.
type Stub struct {
	Text string
}

func (s *Stub) Generate(_ context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.MissingPrompt()
	}
	if s.Text != "" {
		return s.Text, nil
	}
	return "Written: " + strings.TrimSpace(prompt), nil
}
