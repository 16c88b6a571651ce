// ABOUTME: Tests for relay CLI logger construction
// ABOUTME: Checks level filtering and attribute rendering of both handlers

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/2389/sql-relay/internal/config"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.With("component", "gateway").Warn("shown", "agent_id", "a1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "gateway" || rec["agent_id"] != "a1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestSetupLogger_Color(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "store").WithGroup("db").Debug("opened", "path", ":memory:")

	out := buf.String()
	for _, want := range []string{"DBG opened", "component=store", "db.path=:memory:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
