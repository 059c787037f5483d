package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestBridgeStampsContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	l := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithTile(ctx, "tile_osm_10_511_383")
	ctx = WithProvider(ctx, "osm")
	l.InfoContext(ctx, "tile served", "status", 200)

	m := lastLine(t, &buf)
	if m["msg"] != "tile served" || m["level"] != "info" {
		t.Fatalf("line=%v", m)
	}
	if m["request_id"] != "req-42" {
		t.Fatalf("request_id=%v want req-42", m["request_id"])
	}
	if m["tile"] != "tile_osm_10_511_383" {
		t.Fatalf("tile=%v", m["tile"])
	}
	if m["provider"] != "osm" {
		t.Fatalf("provider=%v", m["provider"])
	}
	if m["status"] != float64(200) {
		t.Fatalf("status=%v", m["status"])
	}
}

func TestBridgeGroupsFlattenToDottedKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)

	l := NewSlog(&zl).With("component", "prefetch").WithGroup("cache").With("op", "get")
	l.Info("done", "outcome", "hit")

	m := lastLine(t, &buf)
	if m["component"] != "prefetch" {
		t.Fatalf("component=%v", m["component"])
	}
	if m["cache.op"] != "get" {
		t.Fatalf("cache.op=%v", m["cache.op"])
	}
	if m["cache.outcome"] != "hit" {
		t.Fatalf("cache.outcome=%v", m["cache.outcome"])
	}
}

func TestBridgeHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	l := NewSlog(&zl)

	l.Debug("suppressed")
	l.Info("suppressed too")
	if buf.Len() != 0 {
		t.Fatalf("sub-warn records emitted: %s", buf.String())
	}

	l.Error("boom", "err", "sentinel")
	m := lastLine(t, &buf)
	if m["level"] != "error" || m["err"] != "sentinel" {
		t.Fatalf("line=%v", m)
	}
}
