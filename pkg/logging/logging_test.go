package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestCtx_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(Config{})

	ctx := WithRequestID(context.Background())
	id := RequestID(ctx)
	if id == "" {
		t.Fatal("expected request id")
	}
	if again := RequestID(WithRequestID(ctx)); again != id {
		t.Errorf("request id changed: %s -> %s", id, again)
	}

	Ctx(ctx).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["request_id"] != id {
		t.Errorf("request_id = %v, want %s", line["request_id"], id)
	}
	if line["service"] != "bookrec" {
		t.Errorf("service = %v", line["service"])
	}
}

func TestInit_Level(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Output: &buf})
	defer Init(Config{})

	L().Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at error level, got %s", buf.String())
	}
}
