package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestLogger_JSONKeys verifies the entry layout.
func TestLogger_JSONKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "request completed",
		Field{Key: "http.method", Value: "GET"},
		Field{Key: "duration_ms", Value: 50.5},
	)

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "request completed" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("unexpected level %v", entry["level"])
	}
	if _, ok := entry["timestamp"].(string); !ok {
		t.Errorf("expected string timestamp, got %v", entry["timestamp"])
	}
	if entry["http.method"] != "GET" {
		t.Errorf("unexpected http.method %v", entry["http.method"])
	}
	if v, ok := entry["duration_ms"].(float64); !ok || v != 50.5 {
		t.Errorf("expected duration_ms=50.5, got %v", entry["duration_ms"])
	}
}

// TestLogger_LevelFiltering verifies entries below the configured level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("unexpected levels %v %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestLogger_TraceCorrelation verifies the active span ids are attached.
func TestLogger_TraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Info(ctx, "inside span")

	entry := decodeEntries(t, &buf)[0]
	sc := span.SpanContext()
	if entry["trace_id"] != sc.TraceID().String() {
		t.Errorf("expected trace_id %s, got %v", sc.TraceID(), entry["trace_id"])
	}
	if entry["span_id"] != sc.SpanID().String() {
		t.Errorf("expected span_id %s, got %v", sc.SpanID(), entry["span_id"])
	}

	buf.Reset()
	NewLoggerWithWriter("info", &buf).Info(context.Background(), "no span")
	if _, ok := decodeEntries(t, &buf)[0]["trace_id"]; ok {
		t.Error("expected no trace_id without a span")
	}
}

// TestLogger_RedactsSensitiveFields verifies sensitive keys never reach the output.
func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "login",
		Field{Key: "password", Value: "hunter2"},
		Field{Key: "authorization", Value: "Bearer abc"},
		Field{Key: "user", Value: "alice"},
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "Bearer abc") {
		t.Fatalf("sensitive value leaked: %s", out)
	}
	entry := decodeEntries(t, &buf)[0]
	if entry["password"] != redactedValue || entry["authorization"] != redactedValue {
		t.Errorf("expected redacted values, got %v", entry)
	}
	if entry["user"] != "alice" {
		t.Errorf("expected user=alice, got %v", entry["user"])
	}
}

// TestLogger_With verifies bound fields appear on every entry.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(
		Field{Key: "service.name", Value: "orders"},
		Field{Key: "token", Value: "abc"},
	)

	logger.Info(context.Background(), "first")
	logger.Warn(context.Background(), "second")

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry["service.name"] != "orders" {
			t.Errorf("expected bound service.name, got %v", entry["service.name"])
		}
		if entry["token"] != redactedValue {
			t.Errorf("expected bound token to be redacted, got %v", entry["token"])
		}
	}
}

// TestLogger_SkipsEmptyKeys verifies fields without a key are dropped.
func TestLogger_SkipsEmptyKeys(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Info(context.Background(), "msg", Field{Key: "", Value: "x"})

	entry := decodeEntries(t, &buf)[0]
	if _, ok := entry[""]; ok {
		t.Error("empty key should be skipped")
	}
}

// TestLogger_ConsoleFormat verifies the console encoder is selectable.
func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "info", Format: "console"}, &buf)
	logger.Info(context.Background(), "console entry", Field{Key: "k", Value: "v"})

	out := buf.String()
	if !strings.Contains(out, "console entry") || strings.HasPrefix(out, "{") {
		t.Errorf("expected console output, got %q", out)
	}
}

func TestNewZapLogger(t *testing.T) {
	if NewZapLogger(nil) == nil {
		t.Fatal("nil zap logger should yield a noop logger")
	}
	logger := NewZapLogger(zap.NewNop())
	logger.Info(context.Background(), "discarded")
	if logger.With(Field{Key: "k", Value: 1}) == nil {
		t.Error("With should return a logger")
	}
}
