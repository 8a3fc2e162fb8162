package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BackendError reports a failed call to a generation backend: a
// non-success status, a timeout, or a transport failure.
type BackendError struct {
	URL    string
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("backend %s: %v", e.URL, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// GenRequest is one generation request. Timeout bounds the whole call;
// zero means the client default.
type GenRequest struct {
	Prompt        string
	MaxLength     int
	ContextLength int
	Temperature   float64
	TopP          float64
	Stop          []string
	Timeout       time.Duration
}

type generatePayload struct {
	Prompt           string   `json:"prompt"`
	MaxContextLength int      `json:"max_context_length"`
	MaxLength        int      `json:"max_length"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	StopSequence     []string `json:"stop_sequence"`
}

type generateResult struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Client issues single generation requests to one backend address.
// It performs no retries; retry policy belongs to the caller.
type Client struct {
	baseURL        string
	http           *http.Client
	defaultTimeout time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, defaultTimeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:           httpClient,
		defaultTimeout: defaultTimeout,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Generate posts one request and returns the first result's text with
// surrounding whitespace stripped. A response without results, or with
// empty text, yields "" and no error.
func (c *Client) Generate(ctx context.Context, req GenRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := generatePayload{
		Prompt:           req.Prompt,
		MaxContextLength: req.ContextLength,
		MaxLength:        req.MaxLength,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequence:     req.Stop,
	}
	if payload.StopSequence == nil {
		payload.StopSequence = []string{}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/api/v1/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &BackendError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &BackendError{URL: url, Status: resp.StatusCode}
	}

	var parsed generateResult
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &BackendError{URL: url, Err: err}
	}
	if len(parsed.Results) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Results[0].Text), nil
}

// IsBackendError reports whether err originated in a backend call.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
