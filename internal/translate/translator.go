// Package translate pivots user text to English before the pipeline
// runs and back afterwards. The pipeline itself is language-agnostic;
// this is a thin boundary around an external translation service, and
// every failure degrades to passing text through untouched.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Translator interface {
	Detect(ctx context.Context, text string) string
	Translate(ctx context.Context, text, src, dst string) string
}

// Noop is used when no translation service is configured: everything
// is treated as the pivot language.
type Noop struct{}

func (Noop) Detect(context.Context, string) string { return "en" }

func (Noop) Translate(_ context.Context, text, _, _ string) string { return text }

// HTTPTranslator talks to a LibreTranslate-compatible endpoint.
type HTTPTranslator struct {
	baseURL string
	http    *http.Client
}

func NewHTTPTranslator(baseURL string, httpClient *http.Client) *HTTPTranslator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTranslator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

func (t *HTTPTranslator) Detect(ctx context.Context, text string) string {
	var out []struct {
		Language string `json:"language"`
	}
	if err := t.post(ctx, "/detect", map[string]any{"q": text}, &out); err != nil || len(out) == 0 {
		return "en"
	}
	return out[0].Language
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, src, dst string) string {
	if src == dst || strings.TrimSpace(text) == "" {
		return text
	}
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	err := t.post(ctx, "/translate", map[string]any{
		"q":      text,
		"source": src,
		"target": dst,
		"format": "text",
	}, &out)
	if err != nil || out.TranslatedText == "" {
		return text
	}
	return out.TranslatedText
}

func (t *HTTPTranslator) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("translate %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(respBody, out)
}
