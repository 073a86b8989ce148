package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestClient registers a client with the given send buffer, bypassing the
// websocket handshake.
func newTestClient(h *Hub, buffer int) *Client {
	c := &Client{id: uuid.New(), hub: h, send: make(chan []byte, buffer)}
	h.register <- c
	return c
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (got %d)", want, h.ClientCount())
}

func TestHub_BroadcastDropsSlowClient(t *testing.T) {
	h := New("test")
	go h.Run()

	fast := newTestClient(h, 4)
	newTestClient(h, 0) // zero buffer: cannot accept a single message
	waitForCount(t, h, 2)

	h.Broadcast([]byte("snapshot"))

	waitForCount(t, h, 1)
	select {
	case msg := <-fast.send:
		if string(msg) != "snapshot" {
			t.Errorf("fast client received %q, want snapshot", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("fast client received nothing")
	}
}

func TestHub_ClientCountDuringBroadcasts(t *testing.T) {
	h := New("test")
	go h.Run()

	const clients = 4
	for i := 0; i < clients; i++ {
		c := newTestClient(h, 64)
		go func(c *Client) {
			for range c.send {
			}
		}(c)
	}
	waitForCount(t, h, clients)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Broadcast([]byte("tick"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if n := h.ClientCount(); n < 0 || n > clients {
				t.Errorf("client count out of range: %d", n)
				return
			}
		}
	}()
	wg.Wait()
}
