package uci

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"
)

const fakeEngine = `#!/bin/sh
while read -r line; do
  case "$line" in
    uci) echo "id name fake"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go*) echo "info depth 1 multipv 1 score cp 20 pv e2e4 e7e5"; echo "bestmove e2e4 ponder e7e5" ;;
    quit) exit 0 ;;
  esac
done
`

func writeFakeEngine(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell engine stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(fakeEngine), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestBuildPositionCommand(t *testing.T) {
	if got := buildPositionCommand("", nil); got != "position startpos\n" {
		t.Fatalf("startpos = %q", got)
	}
	fen := "8/8/8/8/8/8/8/K6k w - - 0 1"
	got := buildPositionCommand(fen, []string{"a1a2"})
	want := "position fen " + fen + " moves a1a2\n"
	if got != want {
		t.Fatalf("fen position = %q, want %q", got, want)
	}
}

func TestBuildGoTokens(t *testing.T) {
	got, err := buildGoTokens(Limits{MoveTimeMillis: 1000})
	if err != nil {
		t.Fatalf("buildGoTokens: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"go", "movetime", "1000"}) {
		t.Fatalf("tokens = %v", got)
	}
	if _, err := buildGoTokens(Limits{}); err == nil {
		t.Fatalf("expected error without limits")
	}
}

func TestParseInfo(t *testing.T) {
	mv, cand, ok := parseInfo("info depth 12 multipv 2 score cp -35 nodes 1000 pv g1f3 d7d5")
	if !ok {
		t.Fatalf("parseInfo rejected valid line")
	}
	if mv != 2 || cand.Move != "g1f3" || cand.EvalCP != -35 || len(cand.Principal) != 2 {
		t.Fatalf("unexpected parse: %d %+v", mv, cand)
	}

	_, cand, ok = parseInfo("info depth 5 score mate -3 pv h7h8q")
	if !ok || cand.EvalCP != -30000 {
		t.Fatalf("mate score parse: %+v ok=%v", cand, ok)
	}

	if _, _, ok := parseInfo("info string NNUE enabled"); ok {
		t.Fatalf("line without pv must be ignored")
	}
}

func TestValidateOptions(t *testing.T) {
	if err := validateOptions(Options{SkillLevel: 21, HashMB: 16}); err == nil {
		t.Fatalf("expected skill range error")
	}
	if err := validateOptions(Options{SkillLevel: 3}); err == nil {
		t.Fatalf("expected hash error")
	}
}

func TestPoolSearchWithStubEngine(t *testing.T) {
	bin := writeFakeEngine(t)
	pool, err := NewPool(PoolConfig{BinaryPath: bin, PerSkillCapacity: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opt := Options{Threads: 1, SkillLevel: 3, HashMB: 16}
	for range 2 {
		resp, err := pool.Search(ctx, opt, SearchRequest{Limits: Limits{MoveTimeMillis: 50}})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.BestMove != "e2e4" {
			t.Fatalf("bestmove = %q", resp.BestMove)
		}
		if len(resp.Candidates) != 1 || resp.Candidates[0].EvalCP != 20 {
			t.Fatalf("candidates = %+v", resp.Candidates)
		}
	}
}

func TestNewPoolRejectsMissingBinary(t *testing.T) {
	if _, err := NewPool(PoolConfig{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := NewPool(PoolConfig{BinaryPath: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
