package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/urlredirector/urlredirector/internal/rule"
)

const DefaultConcurrency = 4

// Source fetches raw feed documents.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Refresher downloads every refreshable online group of a store.
type Refresher struct {
	Source      Source
	Concurrency int
	Now         func() time.Time
}

func NewRefresher(src Source, concurrency int) *Refresher {
	return &Refresher{Source: src, Concurrency: concurrency, Now: time.Now}
}

// Report is the outcome of one refresh run. Failed feeds keep their previous
// group.
type Report struct {
	RunID          uuid.UUID         `json:"runId"`
	StartedAt      time.Time         `json:"startedAt"`
	FinishedAt     time.Time         `json:"finishedAt"`
	Queued         []string          `json:"queued"`
	Downloaded     []string          `json:"downloaded"`
	DownloadErrors []string          `json:"downloadErrors,omitempty"`
	ParseErrors    []string          `json:"parseErrors,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`

	groups map[string]*rule.OnlineGroup
}

// Group returns the group downloaded from url, if any.
func (r *Report) Group(url string) (*rule.OnlineGroup, bool) {
	g, ok := r.groups[url]
	return g, ok
}

// Merge returns a copy of s with every downloaded group swapped in.
func (r *Report) Merge(s *rule.Store) *rule.Store {
	out := s.Clone()
	for _, url := range r.Downloaded {
		out = out.WithOnlineGroup(url, r.groups[url])
	}
	return out
}

func (r *Report) Failed() int {
	return len(r.DownloadErrors) + len(r.ParseErrors)
}

func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", r.RunID.String()),
		slog.Int("queued", len(r.Queued)),
		slog.Int("downloaded", len(r.Downloaded)),
		slog.Any("download_errors", r.DownloadErrors),
		slog.Any("parse_errors", r.ParseErrors),
		slog.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
	)
}

// Queue lists the distinct feed URLs of s that are due for download, in
// store order.
func Queue(s *rule.Store) []string {
	var urls []string
	seen := map[string]bool{}
	for _, g := range s.OnlineURLs {
		if g == nil || !g.Refreshable() || seen[g.URL] {
			continue
		}
		seen[g.URL] = true
		urls = append(urls, g.URL)
	}
	return urls
}

// Download fetches every queued feed concurrently and waits for all of them.
// One failing feed never stops the others.
func (r *Refresher) Download(ctx context.Context, s *rule.Store) *Report {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	report := &Report{
		RunID:     uuid.New(),
		StartedAt: now(),
		Queued:    Queue(s),
		groups:    map[string]*rule.OnlineGroup{},
	}

	type result struct {
		group *rule.OnlineGroup
		err   error
	}
	results := make([]result, len(report.Queued))

	g := new(errgroup.Group)
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, url := range report.Queued {
		g.Go(func() error {
			body, err := r.Source.Fetch(ctx, url)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].group, results[i].err = Normalize(body, url, now())
			return nil
		})
	}
	_ = g.Wait()

	for i, url := range report.Queued {
		res := results[i]
		var parseErr *ParseError
		switch {
		case res.err == nil:
			report.Downloaded = append(report.Downloaded, url)
			report.groups[url] = res.group
			slog.Info("Feed downloaded", slog.String("url", url), slog.Int("rules", len(res.group.Rules)))
			continue
		case errors.As(res.err, &parseErr):
			report.ParseErrors = append(report.ParseErrors, url)
		default:
			report.DownloadErrors = append(report.DownloadErrors, url)
		}
		if report.Errors == nil {
			report.Errors = map[string]string{}
		}
		report.Errors[url] = res.err.Error()
		slog.Warn("Feed refresh failed", slog.String("url", url), slog.Any("error", res.err))
	}
	report.FinishedAt = now()
	return report
}
