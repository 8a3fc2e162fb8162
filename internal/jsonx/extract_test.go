package jsonx

import (
	"encoding/json"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "bare object",
			raw:  `{"a":1}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "fenced object",
			raw:  "```json\n{\"intent\":\"greeting\"}\n```",
			want: map[string]any{"intent": "greeting"},
		},
		{
			name: "prose around object",
			raw:  "Sure! Here is the JSON you asked for:\n{\"goal\":\"x\"}\nHope that helps.",
			want: map[string]any{"goal": "x"},
		},
		{
			name: "braces inside string values",
			raw:  `{"goal":"use {curly} braces","steps":[]}`,
			want: map[string]any{"goal": "use {curly} braces", "steps": []any{}},
		},
		{
			name: "escaped quote inside string",
			raw:  `{"goal":"say \"hi\" {now}"}`,
			want: map[string]any{"goal": `say "hi" {now}`},
		},
		{
			name: "nested object",
			raw:  `{"flags":{"needs_image":true}}`,
			want: map[string]any{"flags": map[string]any{"needs_image": true}},
		},
		{
			name: "no object",
			raw:  "just some text",
			want: nil,
		},
		{
			name: "unbalanced",
			raw:  `{"a":1`,
			want: nil,
		},
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw)
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Fatalf("Extract(%q) = %s, want %s", tt.raw, gotJSON, wantJSON)
			}
		})
	}
}

func TestExtractInto(t *testing.T) {
	var dst struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if !ExtractInto("```\n{\"intent\":\"question\",\"confidence\":0.8}\n```", &dst) {
		t.Fatalf("expected object to be found")
	}
	if dst.Intent != "question" || dst.Confidence != 0.8 {
		t.Fatalf("dst=%+v", dst)
	}

	if ExtractInto("no json here", &dst) {
		t.Fatalf("expected no object")
	}
}

func FuzzExtract(f *testing.F) {
	f.Add(`{"a":1}`)
	f.Add("```json\n{\"a\":{\"b\":\"}\"}}\n```")
	f.Add(`prefix {"a":"\"{"} suffix`)
	f.Add("{{{")
	f.Add("")
	f.Fuzz(func(t *testing.T, raw string) {
		got := Extract(raw)
		if got == nil {
			return
		}
		// Anything extracted must re-marshal cleanly.
		if _, err := json.Marshal(got); err != nil {
			t.Fatalf("extracted object does not marshal: %v", err)
		}
	})
}
