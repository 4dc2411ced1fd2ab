package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, maxPerUser int) (*ConnManager, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewConnManager(ManagerConf{
		TTL:        time.Minute,
		SweepEvery: time.Hour,
		MaxPerUser: maxPerUser,
		Clock:      clk.Now,
	})
	t.Cleanup(m.Close)
	return m, clk
}

func conn(id, user string) *WsConn {
	return &WsConn{ConnID: id, UserID: user, Client: NewClient(id, user, 4)}
}

func TestAddReportsFirstAndRemoveReportsLast(t *testing.T) {
	m, _ := newTestManager(t, 0)

	first, err := m.Add(conn("1", "alice"))
	require.NoError(t, err)
	assert.True(t, first)
	first, err = m.Add(conn("2", "alice"))
	require.NoError(t, err)
	assert.False(t, first)

	_, err = m.Add(conn("2", "alice"))
	assert.Error(t, err)
	_, err = m.Add(&WsConn{ConnID: "3"})
	assert.Error(t, err)

	assert.Equal(t, 2, m.Count())
	assert.True(t, m.Online("alice"))

	last, ok := m.Remove("1")
	assert.True(t, ok)
	assert.False(t, last)
	last, ok = m.Remove("2")
	assert.True(t, ok)
	assert.True(t, last)
	assert.False(t, m.Online("alice"))

	_, ok = m.Remove("2")
	assert.False(t, ok)
}

func TestMaxPerUserEvictsOldest(t *testing.T) {
	m, clk := newTestManager(t, 2)
	c1, c2, c3 := conn("1", "bob"), conn("2", "bob"), conn("3", "bob")
	_, _ = m.Add(c1)
	clk.Add(time.Second)
	_, _ = m.Add(c2)
	clk.Add(time.Second)
	_, _ = m.Add(c3)

	assert.Equal(t, 2, m.Count())
	select {
	case <-c1.Client.Done():
	default:
		t.Fatal("evicted client still open")
	}

	// 被挤下线的连接退出时不应触发离线
	_, ok := m.Remove("1")
	assert.False(t, ok)
	assert.True(t, m.Online("bob"))
}

func TestSweepClosesExpiredConnections(t *testing.T) {
	m, clk := newTestManager(t, 0)
	stale, live := conn("1", "carol"), conn("2", "dave")
	_, _ = m.Add(stale)
	_, _ = m.Add(live)

	clk.Add(45 * time.Second)
	require.NoError(t, m.Heartbeat("2"))
	assert.Error(t, m.Heartbeat("404"))

	clk.Add(30 * time.Second)
	assert.Equal(t, 1, m.sweepOnce(clk.Now()))

	select {
	case <-stale.Client.Done():
	default:
		t.Fatal("stale client not closed")
	}
	select {
	case <-live.Client.Done():
		t.Fatal("live client closed")
	default:
	}
	// 索引由读循环退出时回收
	last, ok := m.Remove("1")
	assert.True(t, ok)
	assert.True(t, last)
}

func TestCloseLeavesIndexForCleanup(t *testing.T) {
	m, _ := newTestManager(t, 0)
	a1, a2 := conn("1", "alice"), conn("2", "alice")
	_, _ = m.Add(a1)
	_, _ = m.Add(a2)

	m.Close()
	for _, c := range []*WsConn{a1, a2} {
		select {
		case <-c.Client.Done():
		default:
			t.Fatalf("conn %s still open after Close", c.ConnID)
		}
	}

	// 读循环退出时仍能拿到 last=true
	last, ok := m.Remove("1")
	assert.True(t, ok)
	assert.False(t, last)
	last, ok = m.Remove("2")
	assert.True(t, ok)
	assert.True(t, last)
	assert.Equal(t, 0, m.Count())
}
