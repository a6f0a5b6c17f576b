package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	a, c := b.Subscribe(), b.Subscribe()
	assert.Equal(t, 2, b.Len())

	buf := []byte("line\n")
	n, err := b.Write(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	buf[0] = 'X'

	assert.Equal(t, "line\n", string(<-a))
	assert.Equal(t, "line\n", string(<-c))

	b.Unsubscribe(c)
	assert.Equal(t, 1, b.Len())
	_, ok := <-c
	assert.False(t, ok)

	require.NoError(t, b.WriteJSON(map[string]int{"n": 1}))
	assert.Equal(t, "{\"n\":1}\n", string(<-a))
}

func TestBroadcasterDropsSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	for i := 0; i < cap(ch)+10; i++ {
		_, _ = b.Write([]byte("x"))
	}
	assert.Len(t, ch, cap(ch))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("Debug").String())
	assert.Equal(t, "WARN", ParseLevel("warn").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}

func TestPosixZone(t *testing.T) {
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, posixZone("CST-8")).Zone()
	assert.Equal(t, 8*3600, offset)
	assert.Equal(t, time.UTC, posixZone("UTC"))
	assert.Equal(t, time.UTC, posixZone(""))
}
