package chat

import (
	"sync"
	"sync/atomic"
)

// Client is one live connection as seen by the Hub. It carries no socket:
// the ws server drains Outbound() on its own writer goroutine.
// A single user may hold several clients (multi-device), each tracked separately.
type Client struct {
	ConnID string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64

	mu    sync.Mutex
	rooms map[string]struct{} // hub 维护，Drop 时据此退出所有房间
}

// NewClient creates a client with a bounded outbound queue.
func NewClient(connID, userID string, queue int) *Client {
	if queue <= 0 {
		queue = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Enqueue 非阻塞投递；队列满或已关闭时丢弃并返回 false
func (c *Client) Enqueue(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) Outbound() <-chan []byte { return c.send }

func (c *Client) Done() <-chan struct{} { return c.done }

// Dropped reports frames discarded because the outbound queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Close 幂等；send 通道不关闭，避免并发 Enqueue 写已关闭通道
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// Rooms returns a snapshot of the rooms this client has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports whether the client currently belongs to room.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}
