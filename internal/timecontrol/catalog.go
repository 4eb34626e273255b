// Package timecontrol holds the immutable lookup tables for clock profiles
// and engine difficulty. Defaults are embedded; an override directory of YAML
// files may replace individual entries at startup.
package timecontrol

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chess-live/internal/domain"
)

//go:embed defaults.yaml
var defaultFiles embed.FS

const (
	Bullet    = "bullet"
	Blitz     = "blitz"
	Rapid     = "rapid"
	Classical = "classical"

	DefaultDifficulty = "intermediate"
)

// Control is one named clock profile.
type Control struct {
	Name        string `yaml:"-"`
	BaseMs      int64  `yaml:"base_ms"`
	IncrementMs int64  `yaml:"increment_ms"`
	DelayMs     int64  `yaml:"delay_ms"`
}

type file struct {
	TimeControls map[string]Control `yaml:"time_controls"`
	Difficulties map[string]int     `yaml:"difficulties"`
}

// Catalog is read-only after New returns.
type Catalog struct {
	controls     map[string]Control
	difficulties map[string]int
}

// New loads the embedded defaults, then applies overrides from dir if provided.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{
		controls:     make(map[string]Control),
		difficulties: make(map[string]int),
	}
	raw, err := fs.ReadFile(defaultFiles, "defaults.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded time controls: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded time controls: %w", err)
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns the embedded catalog; it panics only if the binary was built
// with a broken defaults.yaml.
func Default() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read time control dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		var f file
		if err := yaml.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range f.TimeControls {
			key := "time_controls." + normalize(k)
			if prev, ok := seen[key]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", key, prev, name)
			}
			seen[key] = name
		}
		for k := range f.Difficulties {
			key := "difficulties." + normalize(k)
			if prev, ok := seen[key]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", key, prev, name)
			}
			seen[key] = name
		}
		if err := c.merge(f); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) apply(b []byte) error {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	return c.merge(f)
}

func (c *Catalog) merge(f file) error {
	for name, tc := range f.TimeControls {
		if tc.BaseMs <= 0 || tc.IncrementMs < 0 || tc.DelayMs < 0 {
			return fmt.Errorf("time control %q: base must be positive, increment and delay non-negative", name)
		}
		tc.Name = normalize(name)
		c.controls[tc.Name] = tc
	}
	for name, skill := range f.Difficulties {
		if skill < 0 || skill > 20 {
			return fmt.Errorf("difficulty %q: skill %d outside 0..20", name, skill)
		}
		c.difficulties[normalize(name)] = skill
	}
	return nil
}

// Lookup resolves a time control name case-insensitively.
func (c *Catalog) Lookup(name string) (Control, error) {
	tc, ok := c.controls[normalize(name)]
	if !ok {
		return Control{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeControl, name)
	}
	return tc, nil
}

// Normalize returns the canonical time control name.
func (c *Catalog) Normalize(name string) (string, error) {
	tc, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	return tc.Name, nil
}

// Names lists the time controls in ascending base time.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.controls))
	for k := range c.controls {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := c.controls[out[i]], c.controls[out[j]]
		if a.BaseMs != b.BaseMs {
			return a.BaseMs < b.BaseMs
		}
		return out[i] < out[j]
	})
	return out
}

// SkillLevel maps a difficulty name to the engine skill level.
func (c *Catalog) SkillLevel(difficulty string) (int, error) {
	skill, ok := c.difficulties[normalize(difficulty)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDifficulty, difficulty)
	}
	return skill, nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
