package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	applog "github.com/urlredirector/urlredirector/internal/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogs serves real-time log output.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	stream(w, r, s.logBroadcaster, "text/plain; charset=utf-8")
}

// handleEvents serves refresh progress, one JSON object per line.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	stream(w, r, s.engine.Events(), "application/x-ndjson")
}

// stream forwards every line written to b.
//   - WebSocket clients: upgrade to ws and stream lines as text messages.
//   - Plain HTTP clients: chunked transfer, flushed per line.
func stream(w http.ResponseWriter, r *http.Request, b *applog.Broadcaster, contentType string) {
	// Try WebSocket upgrade first.
	if websocket.IsWebSocketUpgrade(r) {
		streamWS(w, r, b)
		return
	}
	streamHTTP(w, r, b, contentType)
}

// streamWS streams lines over a WebSocket connection.
func streamWS(w http.ResponseWriter, r *http.Request, b *applog.Broadcaster) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Read pump – we only need it to detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// streamHTTP streams lines over chunked HTTP.
func streamHTTP(w http.ResponseWriter, r *http.Request, b *applog.Broadcaster, contentType string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
