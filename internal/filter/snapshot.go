package filter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/myfw/internal/fsutil"
	"github.com/plexsphere/myfw/internal/rule"
)

// snapshot is the persisted form of the filter state. Rules are kept in
// their text encoding, in evaluation order.
type snapshot struct {
	Default string   `yaml:"default"`
	Active  bool     `yaml:"active"`
	Rules   []string `yaml:"rules"`
}

// SaveSnapshot writes the current rule list, default verdict and active flag
// to dir/rules.yaml atomically.
func (f *Filter) SaveSnapshot(dir string) error {
	f.mu.RLock()
	snap := snapshot{
		Default: f.store.DefaultVerdict().String(),
		Active:  f.active.Load(),
		Rules:   make([]string, 0, f.store.Len()),
	}
	for _, r := range f.store.All() {
		snap.Rules = append(snap.Rules, r.String())
	}
	f.mu.RUnlock()

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("filter: snapshot: encode: %w", err)
	}
	path := filepath.Join(dir, SnapshotFile)
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("filter: snapshot: write %s: %w", path, err)
	}
	f.logger.Debug("snapshot saved", "path", path, "rules", len(snap.Rules))
	return nil
}

// LoadSnapshot replaces the filter state with dir/rules.yaml. A missing file
// is not an error and leaves the filter unchanged; loaded reports whether a
// snapshot was applied. The snapshot is validated completely before the
// current rules are replaced.
func (f *Filter) LoadSnapshot(dir string) (loaded bool, err error) {
	path := filepath.Join(dir, SnapshotFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filter: snapshot: read %s: %w", path, err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("filter: snapshot: parse %s: %w", path, err)
	}
	def, err := rule.ParseVerdict(strings.TrimSpace(snap.Default))
	if err != nil {
		return false, fmt.Errorf("filter: snapshot: %s: %w", path, err)
	}
	rules := make([]rule.Rule, 0, len(snap.Rules))
	for i, text := range snap.Rules {
		r, err := rule.Parse(text)
		if err != nil {
			return false, fmt.Errorf("filter: snapshot: %s: rule %d: %w", path, i+1, err)
		}
		rules = append(rules, r)
	}

	f.mu.Lock()
	if c := f.store.Cap(); c > 0 && len(rules) > c {
		f.mu.Unlock()
		return false, fmt.Errorf("filter: snapshot: %s: %d rules exceed capacity %d", path, len(rules), c)
	}
	f.store.Clear()
	f.store.SetDefaultVerdict(def)
	for _, r := range rules {
		if err := f.store.AppendTail(r); err != nil {
			f.store.Clear()
			f.metrics.Rules.Set(0)
			f.mu.Unlock()
			return false, fmt.Errorf("filter: snapshot: %s: %w", path, err)
		}
	}
	f.metrics.Rules.Set(float64(f.store.Len()))
	f.mu.Unlock()

	if snap.Active {
		f.Start()
	} else {
		f.Shutdown()
	}
	f.logger.Info("snapshot restored", "path", path, "rules", len(rules), "active", snap.Active)
	return true, nil
}
