package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestMaskField(t *testing.T) {
	if attr := MaskField("custody_key", "deadbeef"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %s", attr.Value.String())
	}
	if attr := MaskField("error", "boom"); attr.Value.String() != "boom" {
		t.Fatalf("allowlisted key must pass through, got %s", attr.Value.String())
	}
	if attr := MaskField("token", "  "); attr.Value.String() != "  " {
		t.Fatalf("empty values must not be masked")
	}
}

func TestSetupRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "questrewardd", "test", slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", slog.String("campaign", "spring"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level threshold, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "kept" || entry["severity"] != "WARN" || entry["service"] != "questrewardd" || entry["env"] != "test" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
