package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"MissionChat/logger"
)

// ===== 配置 =====

type ManagerConf struct {
	TTL        time.Duration    // 连接 TTL，心跳续期（如 90s）
	SweepEvery time.Duration    // 清理周期（如 10s）
	MaxPerUser int              // 每用户最大连接数（<=0 不限制），超限淘汰最老连接
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
}

// ===== 数据结构 =====

type WsConn struct {
	ConnID string
	UserID string
	Client *Client

	Conn   *websocket.Conn // 单测中可为 nil
	Remote net.Addr

	CreatedAt time.Time
	ExpireAt  time.Time // 到期时间（过期由 sweeper 清理）
	Heartbeat time.Time // 最近心跳时间
}

// close 关闭底层连接；读循环随之退出并完成后续清理
func (w *WsConn) close() {
	if w.Client != nil {
		w.Client.Close()
	}
	if w.Conn != nil {
		_ = w.Conn.Close()
	}
}

type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*WsConn            // 主索引：connID -> wsConn
	byUser map[string]map[string]*WsConn // 辅助索引：userID -> (connID -> wsConn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close 停止清理协程并关闭全部连接。
// 索引保留，由各读循环退出时 Remove，这样最后一条连接仍会触发离线。
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.byConn))
	for _, w := range m.byConn {
		all = append(all, w)
	}
	m.mu.RUnlock()

	for _, w := range all {
		w.close()
	}
}

// Add 登记已鉴权连接；first 表示这是该用户在本节点的第一条连接
func (m *ConnManager) Add(w *WsConn) (first bool, err error) {
	if w == nil || w.ConnID == "" || w.UserID == "" {
		return false, errors.New("connID/user empty")
	}
	now := m.conf.Clock()
	var evicted *WsConn

	m.mu.Lock()
	if _, exists := m.byConn[w.ConnID]; exists {
		m.mu.Unlock()
		return false, errors.New("connID exists")
	}
	// 先保证名额
	if m.conf.MaxPerUser > 0 {
		evicted = m.evictOldestLocked(w.UserID)
	}
	w.CreatedAt = now
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.TTL)
	if w.Conn != nil && w.Remote == nil {
		w.Remote = w.Conn.RemoteAddr()
	}
	m.byConn[w.ConnID] = w
	mm := m.byUser[w.UserID]
	if mm == nil {
		mm = make(map[string]*WsConn)
		m.byUser[w.UserID] = mm
	}
	first = len(mm) == 0
	mm[w.ConnID] = w
	m.mu.Unlock()

	if evicted != nil {
		logger.Info("evict oldest connection", zap.String("user", evicted.UserID), zap.String("conn", evicted.ConnID))
		evicted.close()
	}
	return first, nil
}

// Heartbeat 刷新心跳与到期时间
func (m *ConnManager) Heartbeat(connID string) error {
	if connID == "" {
		return errors.New("connID empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byConn[connID]
	if !ok {
		return errors.New("connID not found")
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.TTL)
	return nil
}

// AttachPongHandler 绑定 PongHandler，自动心跳续期；extra 可用于延长读超时等
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, connID string, extra func()) {
	if conn == nil || connID == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		_ = m.Heartbeat(connID) // 连接可能刚好被清理
		if extra != nil {
			extra()
		}
		return nil
	})
}

// Remove 移除连接（不负责关闭）；last 表示该用户在本节点已无连接。
// 被淘汰或过期的连接已先行移除，此时 ok=false。
func (m *ConnManager) Remove(connID string) (last bool, ok bool) {
	if connID == "" {
		return false, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byConn[connID]
	if !ok {
		return false, false
	}
	delete(m.byConn, connID)
	return m.unindexUserLocked(w), true
}

func (m *ConnManager) unindexUserLocked(w *WsConn) bool {
	mm := m.byUser[w.UserID]
	if mm == nil {
		return true
	}
	delete(mm, w.ConnID)
	if len(mm) == 0 {
		delete(m.byUser, w.UserID)
		return true
	}
	return false
}

// Online reports whether user has at least one connection on this node.
func (m *ConnManager) Online(user string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[user]) > 0
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce 只关闭过期连接，索引由读循环退出时 Remove 回收
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.byConn {
		if now.After(w.ExpireAt) {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range expired {
		logger.Info("close stale connection", zap.String("user", w.UserID), zap.String("conn", w.ConnID))
		w.close()
	}
	return len(expired)
}

// ===== 最大连接数/挤下线 =====

// 需要在持锁状态下调用；返回被挤下线的连接，由调用方解锁后关闭
func (m *ConnManager) evictOldestLocked(user string) *WsConn {
	mm := m.byUser[user]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	var oldest *WsConn
	for _, w := range mm {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	if oldest == nil {
		return nil
	}
	delete(m.byConn, oldest.ConnID)
	delete(mm, oldest.ConnID)
	return oldest
}
