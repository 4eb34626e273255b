package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	l, err := Build(Options{Level: "info", ToFile: true, File: path, Format: "json"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l.Info("game_created", zap.String("game_id", "g1"))
	_ = l.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"game_id":"g1"`) {
		t.Fatalf("log line missing field: %s", b)
	}
}

func TestSetNilRestoresNop(t *testing.T) {
	Set(zap.NewExample())
	Set(nil)
	if L() == nil {
		t.Fatalf("global logger must never be nil")
	}
}
