package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			assert.Equal(t, "gpt-4o-mini", req.Model)
			if assert.Len(t, req.Messages, 2) {
				assert.Equal(t, "system", req.Messages[0].Role)
				assert.Equal(t, "hello world", req.Messages[1].Content)
			}
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello, world."}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.Client(), Config{BaseURL: srv.URL})
	out, err := c.Generate(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", out)
}

func TestGenerate_EmptyPromptSkipsProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.Client(), Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindMissingPrompt))
	assert.Zero(t, calls.Load())
}

func TestGenerate_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.Client(), Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "hi")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindRateLimited, appErr.Kind)
	assert.Equal(t, 3*time.Second, appErr.RetryAfter)
}

func TestGenerate_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"bad gateway", http.StatusBadGateway, ``},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"garbage", http.StatusOK, `not json`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.Client(), Config{BaseURL: srv.URL})
			_, err := c.Generate(context.Background(), "hi")
			assert.True(t, apperr.IsKind(err, apperr.KindGenerationService), "got %v", err)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
