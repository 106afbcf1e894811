// Package transcription turns a staged audio file into text through an
// OpenAI-compatible speech-to-text API.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rohits-web03/memoscribe/internal/apperr"
)

// MaxFileBytes is the provider's upload ceiling.
const MaxFileBytes = 25 << 20

// Decodable lists the container formats the provider accepts.
var Decodable = []string{"mp3", "mp4", "mpeg", "mpga", "m4a", "wav", "webm", "ogg", "flac"}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OpenAIClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
	model   string
}

// NewOpenAIClient wraps a shared http.Client. A nil client gets a 60s
// timeout.
func NewOpenAIClient(hc *http.Client, cfg Config) *OpenAIClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIClient{http: hc, apiKey: cfg.APIKey, baseURL: base, model: model}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// preflight rejects files the provider is known to refuse before spending
// a request on them.
func preflight(path string) (os.FileInfo, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	ok := false
	for _, e := range Decodable {
		if e == ext {
			ok = true
			break
		}
	}
	if !ok {
		return nil, apperr.InvalidAudio(fmt.Sprintf("audio format %q cannot be decoded", ext))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	switch {
	case info.Size() == 0:
		return nil, apperr.InvalidAudio("audio file is empty")
	case info.Size() > MaxFileBytes:
		return nil, apperr.InvalidAudio(fmt.Sprintf("audio file exceeds %d MiB", MaxFileBytes>>20))
	}
	return info, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, path string) (string, error) {
	if _, err := preflight(path); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Internal(err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.model); err != nil {
		return "", apperr.Internal(err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", apperr.Internal(err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", apperr.Internal(err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", apperr.Internal(err)
	}
	if err := mw.Close(); err != nil {
		return "", apperr.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", apperr.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.TranscriptionService(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperr.TranscriptionService(err)
	}
	if resp.StatusCode >= 300 {
		return "", classify(resp.StatusCode, raw)
	}

	var out transcriptionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.TranscriptionService(fmt.Errorf("decode response: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}

func classify(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var pe providerError
	if json.Unmarshal(body, &pe) == nil && pe.Error.Message != "" {
		msg = pe.Error.Message
	}
	cause := fmt.Errorf("transcription http %d: %s", status, msg)

	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		e := apperr.InvalidAudio("The audio could not be transcribed")
		e.Cause = cause
		return e
	default:
		return apperr.TranscriptionService(cause)
	}
}

// Stub returns fixed text for every readable file.
type Stub struct {
	Text string
	// Gate, when set, blocks each call until a value is received or ctx ends.
	Gate <-chan struct{}
}

func (s *Stub) Transcribe(ctx context.Context, path string) (string, error) {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return "", apperr.TranscriptionService(ctx.Err())
		}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.InvalidAudio("staged audio is missing")
		}
		return "", apperr.Internal(err)
	}
	text := s.Text
	if text == "" {
		text = "hello world"
	}
	return text, nil
}
