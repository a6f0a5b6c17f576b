package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxBodySize = 8 << 20
	DefaultUserAgent   = "urlredirector"
)

var errBodyTooLarge = errors.New("body too large")

// DownloadError means a feed could not be fetched at all.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download feed %s: unexpected HTTP status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download feed %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Fetcher reads feeds over HTTP. file:// URLs and plain paths are read from
// disk.
type Fetcher struct {
	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:      http.DefaultClient,
		UserAgent:   DefaultUserAgent,
		Timeout:     DefaultTimeout,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Fetch returns the body of the feed at raw. Every failure is a
// *DownloadError.
func (f *Fetcher) Fetch(ctx context.Context, raw string) ([]byte, error) {
	b, status, err := f.fetch(ctx, raw)
	if err != nil || status != 0 {
		return nil, &DownloadError{URL: raw, StatusCode: status, Err: err}
	}
	return b, nil
}

func (f *Fetcher) fetch(ctx context.Context, raw string) ([]byte, int, error) {
	if looksLikeFilePath(raw) {
		b, err := os.ReadFile(raw)
		return b, 0, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, 0, err
	}
	switch u.Scheme {
	case "file":
		b, err := os.ReadFile(filepath.FromSlash(u.Path))
		return b, 0, err
	case "http", "https":
	default:
		return nil, 0, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, nil
	}

	body := io.Reader(res.Body)
	if f.MaxBodySize > 0 {
		body = io.LimitReader(res.Body, f.MaxBodySize+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, 0, err
	}
	if f.MaxBodySize > 0 && int64(len(b)) > f.MaxBodySize {
		return nil, 0, errBodyTooLarge
	}
	return b, 0, nil
}

func looksLikeFilePath(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}
