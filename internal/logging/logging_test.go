package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := NewWithWriter(&buf, Config{Level: "warn"})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("PartialDataDegradation", slog.String("pair", "BTC-USDC"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "PartialDataDegradation" || rec["pair"] != "BTC-USDC" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWithWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "marketd.log")
	cfg := DefaultConfig()
	cfg.File = path
	cfg.Compress = false

	var buf bytes.Buffer
	logger, closer := NewWithWriter(&buf, cfg)
	logger.Info("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"started"`)) {
		t.Errorf("log file missing record: %s", data)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"started"`)) {
		t.Errorf("console missing record: %s", buf.String())
	}
}
