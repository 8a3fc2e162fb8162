package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"requiem/internal/gate"
)

func TestGenerateDecodesFirstImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("path=%s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		if payload["sampler_name"] != "Euler a" {
			t.Errorf("sampler=%v", payload["sampler_name"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString(png)},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), gate.New(1))
	got, err := c.Generate(context.Background(), "a raven in space")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(got) != string(png) {
		t.Fatalf("got=%v, want %v", got, png)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		baseURL bool
	}{
		{name: "not configured", baseURL: false},
		{name: "backend failure", status: http.StatusInternalServerError, body: "boom", baseURL: true},
		{name: "no images", status: http.StatusOK, body: `{"images":[]}`, baseURL: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := ""
			if tt.baseURL {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					fmt.Fprint(w, tt.body)
				}))
				defer srv.Close()
				base = srv.URL
			}
			c := NewClient(base, nil, gate.New(1))
			if _, err := c.Generate(context.Background(), "x"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
