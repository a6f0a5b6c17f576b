package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHTTP(t *testing.T) {
	var gotUA, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCache = r.Header.Get("Cache-Control")
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"version":"1.0","rules":[]}`))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher()
	f.Client = srv.Client()
	f.UserAgent = "test-agent"

	b, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0","rules":[]}`, string(b))
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "no-cache", gotCache)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusNotFound, dlErr.StatusCode)

	f.MaxBodySize = 16
	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	require.ErrorAs(t, err, &dlErr)
	assert.ErrorIs(t, err, errBodyTooLarge)
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), url+"/feed.json")
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Zero(t, dlErr.StatusCode)
	assert.Error(t, dlErr.Err)
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	f := NewFetcher()
	b, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))

	b, err = f.Fetch(context.Background(), "file://"+filepath.ToSlash(path))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))

	_, err = f.Fetch(context.Background(), "ftp://host/feed.json")
	var dlErr *DownloadError
	assert.ErrorAs(t, err, &dlErr)
}
