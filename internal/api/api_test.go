package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlredirector/urlredirector/internal/config"
	"github.com/urlredirector/urlredirector/internal/engine"
	"github.com/urlredirector/urlredirector/internal/feed"
	applog "github.com/urlredirector/urlredirector/internal/log"
	"github.com/urlredirector/urlredirector/internal/rule"
	"github.com/urlredirector/urlredirector/internal/storage"
)

type memTier struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (m *memTier) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memTier) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type staticSource map[string]string

func (s staticSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte(s[url]), nil
}

const testStore = `{
	"enable": true,
	"customRules": [{"origin": "^http://x/(.*)$", "target": "http://y/$1", "enable": true}],
	"onlineURLs": [{"url": "http://feed/", "enable": true, "auto": true, "rules": []}]
}`

func newTestServer(t *testing.T, secret string) (*httptest.Server, *engine.Engine, *applog.Broadcaster) {
	t.Helper()
	local := &memTier{values: map[string][]byte{storage.Key: []byte(testStore)}}
	src := staticSource{"http://feed/": `{"rules": {"http://y/": {"dstURL": "http://z/"}}}`}
	eng := engine.New(storage.New(local, nil), feed.NewRefresher(src, 1), engine.Options{})
	require.NoError(t, eng.Load(context.Background()))

	cfg := &config.Config{LogLevel: "info", API: config.APIConfig{Enable: true, BindAddress: "127.0.0.1", Secret: secret}}
	lb := applog.NewBroadcaster()
	srv := httptest.NewServer(New("1.2.3", cfg, eng, lb).Handler())
	t.Cleanup(srv.Close)
	return srv, eng, lb
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestVersionAndConfig(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	var version map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/version", &version))
	assert.Equal(t, "1.2.3", version["version"])

	var cfg map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/config", &cfg))
	assert.Equal(t, "info", cfg["LogLevel"])
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "s3cret")

	resp, err := http.Get(srv.URL + "/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/version", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg struct{ API struct{ Secret string } }
	getJSON(t, srv.URL+"/config?secret=s3cret", &cfg)
	assert.Equal(t, "******", cfg.API.Secret)
}

func TestRulesAndCompiled(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	var snap struct {
		Version uint64
		Store   struct {
			CustomRules []map[string]any `json:"customRules"`
		}
	}
	getJSON(t, srv.URL+"/rules", &snap)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, snap.Store.CustomRules, 1)

	var compiled struct {
		Rules []map[string]any `json:"rules"`
		Stats struct{ Custom int }
	}
	getJSON(t, srv.URL+"/rules/compiled", &compiled)
	assert.Len(t, compiled.Rules, 1)
	assert.Equal(t, 1, compiled.Stats.Custom)
}

func TestResolve(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	var res resolveResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/resolve?url=http://x/a", &res))
	assert.True(t, res.Matched)
	assert.Equal(t, "http://y/a", res.URL)
	assert.Len(t, res.Trace.Steps, 1)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/resolve", &errBody))
	assert.Equal(t, "missing url", errBody["error"])
}

func TestRefresh(t *testing.T) {
	srv, eng, _ := newTestServer(t, "")

	var busy map[string]bool
	getJSON(t, srv.URL+"/refresh", &busy)
	assert.False(t, busy["refreshing"])

	resp, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report feed.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, []string{"http://feed/"}, report.Downloaded)

	got, ok := eng.Resolve(rule.Request{URL: "http://x/a"})
	assert.True(t, ok)
	assert.Equal(t, "http://z/a", got)
}

func TestEventsHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	post, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, engine.EventDownloaded, ev.Type)
	assert.Equal(t, []string{"http://feed/"}, ev.URLs)
}

func TestLogsWebSocket(t *testing.T) {
	srv, _, lb := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered after the upgrade completes
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = lb.Write([]byte("hello\n"))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(msg))
}

func TestRedirect(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	tests := []struct {
		query    string
		status   int
		location string
	}{
		{"?url=http://x/a", http.StatusFound, "http://y/a"},
		{"?url=http://x/a&code=307", http.StatusTemporaryRedirect, "http://y/a"},
		{"?url=http://nomatch/", http.StatusNotFound, ""},
		{"", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := client.Get(srv.URL + "/go" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.location, resp.Header.Get("Location"))
		})
	}
}
