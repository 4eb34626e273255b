package timecontrol

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/park285/chess-live/internal/domain"
)

func TestDefaults(t *testing.T) {
	c := Default()
	cases := []struct {
		name      string
		base, inc int64
	}{
		{"bullet", 60000, 0},
		{"BLITZ", 300000, 2000},
		{" Rapid ", 600000, 5000},
		{"classical", 1800000, 30000},
	}
	for _, tc := range cases {
		got, err := c.Lookup(tc.name)
		if err != nil {
			t.Fatalf("lookup %q: %v", tc.name, err)
		}
		if got.BaseMs != tc.base || got.IncrementMs != tc.inc || got.DelayMs != 0 {
			t.Fatalf("%q = %+v", tc.name, got)
		}
	}
	if _, err := c.Lookup("hyperbullet"); !errors.Is(err, domain.ErrInvalidTimeControl) {
		t.Fatalf("want ErrInvalidTimeControl, got %v", err)
	}
	names := c.Names()
	if len(names) != 4 || names[0] != Bullet || names[3] != Classical {
		t.Fatalf("names = %v", names)
	}
}

func TestSkillLevels(t *testing.T) {
	c := Default()
	for name, want := range map[string]int{"beginner": 3, "Intermediate": 12, "advanced": 19} {
		got, err := c.SkillLevel(name)
		if err != nil || got != want {
			t.Fatalf("%s = %d err=%v", name, got, err)
		}
	}
	if _, err := c.SkillLevel("grandmaster"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	body := "time_controls:\n  blitz:\n    base_ms: 180000\n    increment_ms: 0\n    delay_ms: 2000\n"
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, _ := c.Lookup("blitz")
	if got.BaseMs != 180000 || got.DelayMs != 2000 {
		t.Fatalf("override not applied: %+v", got)
	}
	if _, err := c.Lookup("bullet"); err != nil {
		t.Fatalf("defaults lost: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys must fail")
	}
}

func TestOverrideRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	body := "time_controls:\n  rapid:\n    base_ms: 0\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("zero base must be rejected")
	}
}
