// Package image wraps a Stable Diffusion WebUI txt2img endpoint. Image
// jobs contend for the same backend capacity as chat pipelines, so the
// client goes through the shared gate.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"requiem/internal/gate"
)

const requestTimeout = 120 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	gate    *gate.Gate
}

func NewClient(baseURL string, httpClient *http.Client, g *gate.Gate) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		gate:    g,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type txt2imgPayload struct {
	Prompt      string  `json:"prompt"`
	Steps       int     `json:"steps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	CfgScale    float64 `json:"cfg_scale"`
	SamplerName string  `json:"sampler_name"`
}

type txt2imgResult struct {
	Images []string `json:"images"`
}

// Generate renders one PNG for prompt and returns the raw bytes.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("image backend is not configured")
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(txt2imgPayload{
		Prompt:      prompt,
		Steps:       22,
		Width:       640,
		Height:      640,
		CfgScale:    7.0,
		SamplerName: "Euler a",
	})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/sdapi/v1/txt2img"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("txt2img %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("txt2img status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed txt2imgResult
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Images) == 0 {
		return nil, fmt.Errorf("txt2img returned no images")
	}
	return base64.StdEncoding.DecodeString(parsed.Images[0])
}
