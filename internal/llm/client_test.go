package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateDecodesFirstResult(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Errorf("path=%s, want /api/v1/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[{"text":"  hello there \n"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second)
	out, err := c.Generate(context.Background(), GenRequest{
		Prompt:        "hi",
		MaxLength:     160,
		ContextLength: 1024,
		Temperature:   0.2,
		TopP:          0.95,
		Stop:          []string{"\n"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("out=%q, want %q", out, "hello there")
	}
	if gotPayload["prompt"] != "hi" {
		t.Fatalf("prompt=%v, want hi", gotPayload["prompt"])
	}
	if gotPayload["max_context_length"] != float64(1024) {
		t.Fatalf("max_context_length=%v, want 1024", gotPayload["max_context_length"])
	}
	if _, ok := gotPayload["stop_sequence"]; !ok {
		t.Fatalf("payload missing stop_sequence: %v", gotPayload)
	}
}

func TestGenerateEmptyResultsIsNotAnError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no results key", body: `{}`},
		{name: "empty results", body: `{"results":[]}`},
		{name: "empty text", body: `{"results":[{"text":""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.Client(), time.Second)
			out, err := c.Generate(context.Background(), GenRequest{Prompt: "x"})
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if out != "" {
				t.Fatalf("out=%q, want empty", out)
			}
		})
	}
}

func TestGenerateNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second)
	_, err := c.Generate(context.Background(), GenRequest{Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error on status 503")
	}
	if !IsBackendError(err) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second)
	start := time.Now()
	_, err := c.Generate(context.Background(), GenRequest{Prompt: "x", Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsBackendError(err) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied, call took %v", time.Since(start))
	}
}
