// Package storage persists the rule store snapshot in a local tier and an
// optional synchronized tier.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Key is the key the snapshot is stored under.
const Key = "storage"

var ErrNotFound = errors.New("not found")

// Tier is a key/value store.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Watcher is implemented by tiers that report changes made by other
// writers. Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string, onChange func(value []byte)) error
}

// Storage reads and writes the snapshot. Sync may be nil.
type Storage struct {
	Local Tier
	Sync  Tier
}

func New(local, sync Tier) *Storage {
	return &Storage{Local: local, Sync: sync}
}

// Load returns the current snapshot. The synchronized copy is preferred when
// the local snapshot enables sync, and used when there is no local snapshot.
func (s *Storage) Load(ctx context.Context) ([]byte, error) {
	local, err := s.Local.Get(ctx, Key)
	switch {
	case errors.Is(err, ErrNotFound):
		if remote, ok := s.loadSync(ctx); ok {
			return remote, nil
		}
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("s.Local.Get: %w", err)
	}

	if syncEnabled(local) {
		if remote, ok := s.loadSync(ctx); ok {
			return remote, nil
		}
	}
	return local, nil
}

func (s *Storage) loadSync(ctx context.Context) ([]byte, bool) {
	if s.Sync == nil {
		return nil, false
	}
	b, err := s.Sync.Get(ctx, Key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("s.Sync.Get", slog.Any("error", err))
		}
		return nil, false
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, false
	}
	return b, true
}

// Save writes the snapshot to the synchronized tier when it enables sync,
// then to the local tier. Failures of the synchronized tier are logged only.
func (s *Storage) Save(ctx context.Context, value []byte) error {
	if s.Sync != nil && syncEnabled(value) {
		if err := s.Sync.Set(ctx, Key, value); err != nil {
			slog.Warn("s.Sync.Set", slog.Any("error", err))
		}
	}
	if err := s.Local.Set(ctx, Key, value); err != nil {
		return fmt.Errorf("s.Local.Set: %w", err)
	}
	return nil
}

// Watch calls onChange whenever a tier reports a change made by another
// writer. It blocks until ctx is done or a watcher fails.
func (s *Storage) Watch(ctx context.Context, onChange func()) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range []Tier{s.Local, s.Sync} {
		w, ok := t.(Watcher)
		if !ok {
			continue
		}
		g.Go(func() error {
			return w.Watch(ctx, Key, func([]byte) { onChange() })
		})
	}
	return g.Wait()
}

func syncEnabled(snapshot []byte) bool {
	return gjson.GetBytes(snapshot, "sync").Bool()
}
