package dnr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/urlredirector/urlredirector/internal/rule"
)

// Enforcer is the layer that evaluates installed records against requests.
type Enforcer interface {
	DynamicRules(ctx context.Context) ([]Rule, error)
	UpdateDynamicRules(ctx context.Context, u Update) error
}

// Apply replaces everything installed in e with the compilation of s.
func Apply(ctx context.Context, e Enforcer, s *rule.Store) (Stats, error) {
	existing, err := e.DynamicRules(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("e.DynamicRules: %w", err)
	}
	u := Update{RemoveRuleIDs: make([]int, 0, len(existing))}
	for _, r := range existing {
		u.RemoveRuleIDs = append(u.RemoveRuleIDs, r.ID)
	}

	rules, stats := Compile(s)
	u.AddRules = rules
	if len(u.RemoveRuleIDs) == 0 && len(u.AddRules) == 0 {
		return stats, nil
	}
	if err := e.UpdateDynamicRules(ctx, u); err != nil {
		return stats, fmt.Errorf("e.UpdateDynamicRules: %w", err)
	}
	slog.Info("Applied dynamic rules", slog.Int("removed", len(u.RemoveRuleIDs)), slog.Any("added", stats))
	return stats, nil
}

var ErrDuplicateID = errors.New("duplicate rule id")

// FileEnforcer keeps the installed rule set in a JSON file for an external
// enforcement process to pick up.
type FileEnforcer struct {
	Path string
	mu   sync.Mutex
}

func NewFileEnforcer(path string) *FileEnforcer {
	return &FileEnforcer{Path: path}
}

func (f *FileEnforcer) DynamicRules(ctx context.Context) ([]Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileEnforcer) read() ([]Rule, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []Rule{}, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return rules, nil
}

// UpdateDynamicRules applies u as one change: either all of it is written or
// the file is left as it was.
func (f *FileEnforcer) UpdateDynamicRules(ctx context.Context, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := f.read()
	if err != nil {
		return err
	}
	rules = slices.DeleteFunc(rules, func(r Rule) bool { return slices.Contains(u.RemoveRuleIDs, r.ID) })

	seen := make(map[int]struct{}, len(rules)+len(u.AddRules))
	for _, r := range rules {
		seen[r.ID] = struct{}{}
	}
	for _, r := range u.AddRules {
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	rules = append(rules, u.AddRules...)
	return WriteRules(f.Path, rules)
}

// WriteRules writes rules to path through a temporary file and a rename.
func WriteRules(path string, rules []Rule) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".rules.json.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rules); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
