package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"MissionChat/global/response"
	"MissionChat/logger"
	mid "MissionChat/middleware"
	midsec "MissionChat/middleware/security"
	"MissionChat/service/storage"
	"MissionChat/tools/errs"
	"MissionChat/tools/ids"
	"MissionChat/tools/safe"
)

// ---- 常量参数（建议值） ----
const (
	defaultPingEvery  = 25 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultReadLimit  = 64 << 10
	presenceOpTimeout = 3 * time.Second
)

type ServerConfig struct {
	Node        string
	Auth        *midsec.Options
	Origins     []string
	SendQueue   int
	PresenceTTL time.Duration
	PingEvery   time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	ReadLimit   int64
}

func (c *ServerConfig) norm() {
	if c.PingEvery <= 0 {
		c.PingEvery = defaultPingEvery
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PongWait <= c.PingEvery {
		c.PongWait = c.PingEvery * 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 90 * time.Second
	}
}

// Server 负责 WebSocket 握手、读写循环以及断线清理
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	conns    *ConnManager
	disp     *Dispatcher
	presence storage.Presence
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewServer(cfg ServerConfig, hub *Hub, conns *ConnManager, disp *Dispatcher, presence storage.Presence) *Server {
	safe.MustNotNil(cfg.Auth, "ws auth options")
	safe.MustNotNil(hub, "hub")
	safe.MustNotNil(conns, "conn manager")
	safe.MustNotNil(disp, "dispatcher")
	cfg.norm()
	if presence == nil {
		presence = storage.NewMemPresence()
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		conns:    conns,
		disp:     disp,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     mid.OriginChecker(cfg.Origins),
		},
	}
}

// HandleWS 鉴权在升级之前完成，失败按 REST 错误返回
func (s *Server) HandleWS(c *gin.Context) {
	user, err := midsec.Authenticate(s.cfg.Auth, c.Request)
	if err != nil {
		response.Fail(c, err)
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回 HTTP 错误
		logger.Warn("ws upgrade failed", zap.String("user", user), zap.Error(err))
		return
	}

	client := NewClient(ids.GenerateString(), user, s.cfg.SendQueue)
	rec := &WsConn{ConnID: client.ConnID, UserID: user, Client: client, Conn: ws}
	first, err := s.conns.Add(rec)
	if err != nil {
		logger.Error("register connection failed", zap.String("user", user), zap.Error(err))
		_ = ws.Close()
		return
	}
	if first {
		s.markOnline(user)
	}
	logger.Info("ws connected", zap.String("user", user), zap.String("conn", client.ConnID),
		zap.String("remote", c.Request.RemoteAddr))

	s.wg.Add(2)
	go s.writeLoop(rec)
	go s.readLoop(rec)
}

func (s *Server) readLoop(rec *WsConn) {
	defer s.wg.Done()
	defer s.cleanup(rec)

	ws, client := rec.Conn, rec.Client
	ws.SetReadLimit(s.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conns.AttachPongHandler(ws, rec.ConnID, func() {
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		kind, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("ws read closed", zap.String("conn", rec.ConnID), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			client.Enqueue(errorFrame("", "Malformed frame"))
			continue
		}
		var herr error
		if perr := safe.Run(func() { herr = s.disp.Dispatch(context.Background(), client, f) }); perr != nil {
			herr = perr
		}
		if herr != nil {
			ce := errs.As(herr)
			if ce.Code == errs.ServerInternalError {
				logger.Error("ws event failed", zap.String("event", f.Event), zap.String("conn", rec.ConnID), zap.Error(herr))
			}
			client.Enqueue(errorFrame(f.Event, ce.Msg))
		}
	}
}

// writeLoop 单写协程：业务帧 + 定时 ping + 续期 presence
func (s *Server) writeLoop(rec *WsConn) {
	defer s.wg.Done()
	ws, client := rec.Conn, rec.Client
	ticker := time.NewTicker(s.cfg.PingEvery)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}()

	for {
		select {
		case <-client.Done():
			return
		case frame := <-client.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("ws write failed", zap.String("conn", rec.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				return
			}
			s.markOnline(rec.UserID)
		}
	}
}

func (s *Server) cleanup(rec *WsConn) {
	s.hub.Drop(rec.Client)
	rec.Client.Close()
	last, ok := s.conns.Remove(rec.ConnID)
	if ok && last {
		ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
		defer cancel()
		if err := s.presence.Offline(ctx, rec.UserID, s.cfg.Node); err != nil {
			logger.Warn("presence offline failed", zap.String("user", rec.UserID), zap.Error(err))
		}
	}
	logger.Info("ws disconnected", zap.String("user", rec.UserID), zap.String("conn", rec.ConnID))
}

func (s *Server) markOnline(user string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := s.presence.Online(ctx, user, s.cfg.Node, s.cfg.PresenceTTL); err != nil {
		logger.Warn("presence online failed", zap.String("user", user), zap.Error(err))
	}
}

// Shutdown 关闭所有连接并等待读写协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("closing ws connections", zap.Int("conns", s.conns.Count()))
	s.conns.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
