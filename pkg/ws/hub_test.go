package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id string, queue int) *Client {
	return &Client{ID: id, UserID: "user-" + id, send: make(chan []byte, queue)}
}

func TestHubMembership(t *testing.T) {
	h := NewHub()
	a, b := testClient("a", 1), testClient("b", 1)

	h.Add("lobby", a)
	h.Add("lobby", b)
	h.Add("ops", a)
	assert.Equal(t, 2, h.Count())
	assert.Len(t, h.Clients("lobby"), 2)
	assert.Equal(t, []string{"lobby", "ops"}, a.Rooms())

	assert.True(t, h.Remove("lobby", a))
	assert.False(t, h.Remove("lobby", a))
	assert.False(t, a.InRoom("lobby"))
	assert.True(t, a.InRoom("ops"))

	dropped := h.Drop("ops")
	require.Len(t, dropped, 1)
	assert.False(t, a.InRoom("ops"))
	assert.Equal(t, 1, h.Count())
}

func TestHubBroadcast(t *testing.T) {
	tests := []struct {
		name    string
		clients int
	}{
		{"direct", 3},
		{"worker pool", 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub()
			clients := make([]*Client, tt.clients)
			for i := range clients {
				clients[i] = testClient(fmt.Sprint(i), 1)
				h.Add("room", clients[i])
			}

			failed, err := h.Broadcast("room", []byte("hello"), clients[0])
			require.NoError(t, err)
			assert.Zero(t, failed)
			assert.Empty(t, clients[0].send)
			for _, c := range clients[1:] {
				assert.Equal(t, []byte("hello"), <-c.send)
			}
		})
	}
}

func TestHubBroadcastCountsFullQueues(t *testing.T) {
	h := NewHub()
	full := testClient("full", 1)
	full.send <- []byte("pending")
	h.Add("room", full)
	h.Add("room", testClient("ok", 1))

	failed, err := h.Broadcast("room", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestConnectionPool(t *testing.T) {
	p := NewConnectionPool(2)
	require.NoError(t, p.Add(testClient("a", 1)))
	assert.ErrorIs(t, p.Add(testClient("a", 1)), ErrClientIDExists)
	require.NoError(t, p.Add(testClient("b", 1)))
	assert.True(t, p.Full())
	assert.ErrorIs(t, p.Add(testClient("c", 1)), ErrTooManyConnections)
	assert.Equal(t, 2, p.Count())

	c, ok := p.Get("b")
	require.True(t, ok)
	assert.Len(t, p.ByUser(c.UserID), 1)

	assert.True(t, p.Remove("a"))
	assert.False(t, p.Remove("a"))
	assert.False(t, p.Full())
}

func TestConnectionPoolConcurrentAdd(t *testing.T) {
	const limit = 10
	p := NewConnectionPool(limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.Add(testClient(fmt.Sprint(i), 1)) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, limit, accepted)
	assert.Equal(t, limit, p.Count())
}
