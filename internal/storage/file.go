package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileTier is the synchronized tier: one JSON file per key in a directory
// that an outside tool keeps in sync across machines.
type FileTier struct {
	Dir string
}

func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create sync directory %s: %w", dir, err)
	}
	return &FileTier{Dir: dir}, nil
}

func (t *FileTier) path(key string) string {
	return filepath.Join(t.Dir, key+".json")
}

func (t *FileTier) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(t.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (t *FileTier) Set(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(t.Dir, "."+key+".json.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, t.path(key))
}

// Watch reports changes of the key's file. Events for temporary files are
// ignored, so a Set through this tier shows up once, as the final rename.
func (t *FileTier) Watch(ctx context.Context, key string, onChange func(value []byte)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(t.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", t.Dir, err)
	}

	target := filepath.Clean(t.path(key))
	seen, _ := t.Get(ctx, key)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fsnotify", slog.Any("error", err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			value, err := t.Get(ctx, key)
			if err != nil || bytes.Equal(value, seen) {
				continue
			}
			seen = value
			slog.Debug("Storage changed", slog.String("tier", "file"), slog.String("key", key))
			onChange(value)
		}
	}
}
