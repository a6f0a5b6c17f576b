package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/urlredirector/urlredirector/internal/dnr"
	"github.com/urlredirector/urlredirector/internal/feed"
	applog "github.com/urlredirector/urlredirector/internal/log"
	"github.com/urlredirector/urlredirector/internal/rule"
	"github.com/urlredirector/urlredirector/internal/statistics"
	"github.com/urlredirector/urlredirector/internal/storage"
)

var ErrRefreshInProgress = errors.New("refresh already in progress")

// Snapshot is one immutable version of the rule store. A new snapshot is
// swapped in whole; the store it holds is never changed afterwards.
type Snapshot struct {
	Version  uint64      `json:"version"`
	Store    *rule.Store `json:"store"`
	LoadedAt time.Time   `json:"loadedAt"`

	raw []byte
}

type Options struct {
	// Enforcer receives the compiled rule set after every swap. Nil only
	// compiles.
	Enforcer dnr.Enforcer
	// Stats records every resolution that rewrote a URL. Optional.
	Stats *statistics.RedirectRecordList
	// CacheSize bounds the resolution cache. Zero disables it.
	CacheSize int
	CacheTTL  time.Duration
}

type Engine struct {
	storage   *storage.Storage
	refresher *feed.Refresher
	enforcer  dnr.Enforcer
	stats     *statistics.RedirectRecordList
	cache     *expirable.LRU[cacheKey, result]
	events    *applog.Broadcaster

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	busy     atomic.Bool
	// mu serializes snapshot commits.
	mu    sync.Mutex
	rearm chan struct{}
	now   func() time.Time
}

type cacheKey struct {
	version uint64
	req     rule.Request
}

type result struct {
	url     string
	matched bool
}

func New(st *storage.Storage, refresher *feed.Refresher, opts Options) *Engine {
	e := &Engine{
		storage:   st,
		refresher: refresher,
		enforcer:  opts.Enforcer,
		stats:     opts.Stats,
		events:    applog.NewBroadcaster(),
		rearm:     make(chan struct{}, 1),
		now:       time.Now,
	}
	if opts.CacheSize > 0 {
		e.cache = expirable.NewLRU[cacheKey, result](opts.CacheSize, nil, opts.CacheTTL)
	}
	e.snapshot.Store(&Snapshot{Store: rule.NewStore(), LoadedAt: e.now()})
	return e
}

// Snapshot returns the current snapshot. Callers must not change it.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Events streams refresh progress as JSON lines.
func (e *Engine) Events() *applog.Broadcaster {
	return e.events
}

// Refreshing reports whether a refresh is running.
func (e *Engine) Refreshing() bool {
	return e.busy.Load()
}

// Resolve rewrites req.URL with the current snapshot.
func (e *Engine) Resolve(req rule.Request) (string, bool) {
	snap := e.Snapshot()
	key := cacheKey{version: snap.Version, req: req}

	res, ok := result{}, false
	if e.cache != nil {
		res, ok = e.cache.Get(key)
	}
	if !ok {
		res.url, res.matched = snap.Store.Resolve(req)
		if e.cache != nil {
			e.cache.Add(key, res)
		}
	}
	if res.matched && e.stats != nil {
		e.stats.Record(req.URL, res.url)
	}
	return res.url, res.matched
}

// Trace resolves req with the current snapshot and keeps every step.
func (e *Engine) Trace(req rule.Request) rule.Trace {
	return e.Snapshot().Store.Trace(req)
}

// Compiled returns the declarative rule set of the current snapshot.
func (e *Engine) Compiled() ([]dnr.Rule, dnr.Stats) {
	return dnr.Compile(e.Snapshot().Store)
}

// Load reads the persisted store and swaps it in. On first run the defaults
// are persisted. A snapshot that fails to decode leaves the current one in
// place.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.storage.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s := rule.NewStore()
		if raw, err = s.Encode(); err != nil {
			return err
		}
		if err := e.storage.Save(ctx, raw); err != nil {
			return fmt.Errorf("failed to persist default store: %w", err)
		}
		slog.Info("Storage initialized with defaults")
		e.swap(s, raw)
		return e.apply(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load storage: %w", err)
	}
	if bytes.Equal(e.Snapshot().raw, raw) {
		return nil
	}

	s, err := rule.DecodeStore(raw)
	if err != nil {
		slog.Error("Stored rules are unreadable, keeping current snapshot",
			slog.Uint64("version", e.Snapshot().Version), slog.Any("error", err))
		return err
	}
	e.swap(s, raw)
	return e.apply(ctx)
}

// Replace persists s and makes it the current snapshot.
func (e *Engine) Replace(ctx context.Context, s *rule.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit(ctx, s)
}

// Apply installs the compiled rules of the current snapshot.
func (e *Engine) Apply(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(ctx)
}

// Refresh downloads every refreshable feed and merges the results into the
// latest snapshot. Only one refresh runs at a time.
func (e *Engine) Refresh(ctx context.Context) (*feed.Report, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer e.busy.Store(false)

	report := e.refresher.Download(ctx, e.Snapshot().Store)
	slog.Info("Refresh finished", slog.Any("report", report))

	var err error
	if len(report.Downloaded) > 0 {
		e.mu.Lock()
		// feeds may take long; merge into whatever is current now
		s := report.Merge(e.Snapshot().Store)
		s.Touch(e.now())
		err = e.commit(ctx, s)
		e.mu.Unlock()
	}

	e.publish(EventDownloaded, report.RunID, report.Downloaded)
	if len(report.DownloadErrors) > 0 {
		e.publish(EventDownloadError, report.RunID, report.DownloadErrors)
	}
	if len(report.ParseErrors) > 0 {
		e.publish(EventParseError, report.RunID, report.ParseErrors)
	}
	return report, err
}

// Watch reloads the store whenever a storage tier reports a change. It
// blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	return e.storage.Watch(ctx, func() {
		if err := e.Load(ctx); err != nil {
			slog.Warn("Reload after storage change failed", slog.Any("error", err))
		}
	})
}

func (e *Engine) commit(ctx context.Context, s *rule.Store) error {
	raw, err := s.Encode()
	if err != nil {
		return err
	}
	if err := e.storage.Save(ctx, raw); err != nil {
		return fmt.Errorf("failed to save storage: %w", err)
	}
	e.swap(s, raw)
	return e.apply(ctx)
}

func (e *Engine) swap(s *rule.Store, raw []byte) {
	snap := &Snapshot{
		Version:  e.version.Add(1),
		Store:    s,
		LoadedAt: e.now(),
		raw:      raw,
	}
	e.snapshot.Store(snap)
	slog.Info("Snapshot swapped", slog.Uint64("version", snap.Version), slog.Any("store", s))

	select {
	case e.rearm <- struct{}{}:
	default:
	}
}

func (e *Engine) apply(ctx context.Context) error {
	store := e.Snapshot().Store
	if e.enforcer == nil {
		_, stats := dnr.Compile(store)
		slog.Debug("Declarative rules compiled", slog.Any("stats", stats))
		return nil
	}
	stats, err := dnr.Apply(ctx, e.enforcer, store)
	if err != nil {
		return fmt.Errorf("failed to apply declarative rules: %w", err)
	}
	slog.Info("Declarative rules applied", slog.Any("stats", stats))
	return nil
}

const (
	EventDownloaded    = "downloaded"
	EventDownloadError = "downloadError"
	EventParseError    = "parseError"
)

// Event is a refresh progress message.
type Event struct {
	Type  string    `json:"type"`
	RunID uuid.UUID `json:"runId"`
	URLs  []string  `json:"urls"`
	Time  time.Time `json:"time"`
}

func (e *Engine) publish(typ string, runID uuid.UUID, urls []string) {
	if urls == nil {
		urls = []string{}
	}
	if err := e.events.WriteJSON(Event{Type: typ, RunID: runID, URLs: urls, Time: e.now()}); err != nil {
		slog.Error("events.WriteJSON", slog.Any("error", err))
	}
}
