package log

import (
	"encoding/json"
	"io"
	"sync"
)

// Broadcaster fans out lines to subscriber channels. It backs the live log
// stream and the refresh event stream, and is safe for concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroadcaster creates a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Write implements io.Writer.  Each write (typically one log line) is copied
// to every subscriber channel.  Slow subscribers are skipped (non-blocking
// send) so a stuck client never blocks the logger.
func (b *Broadcaster) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- buf:
		default:
			// subscriber too slow – drop the message
		}
	}
	return len(p), nil
}

// Subscribe registers a new subscriber and returns a buffered channel that
// will receive copies of every log line.  Call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// WriteJSON broadcasts v as one JSON line.
func (b *Broadcaster) WriteJSON(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = b.Write(append(line, '\n'))
	return err
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// compile-time check
var _ io.Writer = (*Broadcaster)(nil)
