package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithContextAddsRequestAndLeadIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, LeadIDKey, "lead-1")
	log.WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["request_id"] != "req-1" || line["lead_id"] != "lead-1" {
		t.Fatalf("expected ids on the log line, got %v", line)
	}
}

func TestWithContextWithoutValues(t *testing.T) {
	log := Discard()
	if got := log.WithContext(context.Background()); got != log {
		t.Fatalf("expected the same logger when the context carries no ids")
	}
}
