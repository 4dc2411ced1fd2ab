package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	midsec "MissionChat/middleware/security"
	"MissionChat/service/storage"
	jwtsec "MissionChat/tools/security"
)

var wsSecret = []byte("ws-test")

type wsEnv struct {
	url      string
	hub      *Hub
	conns    *ConnManager
	presence *storage.MemPresence
	srv      *Server
}

func newWsEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &wsEnv{hub: newTestHub(t), presence: storage.NewMemPresence()}
	e.conns = NewConnManager(ManagerConf{})
	disp := NewDispatcher()
	NewEvents(e.hub, nil).Register(disp)
	e.srv = NewServer(ServerConfig{
		Node:    "node-1",
		Auth:    midsec.DefaultOptions(wsSecret),
		Origins: []string{"*"},
	}, e.hub, e.conns, disp, e.presence)

	r := gin.New()
	r.GET("/ws", e.srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.srv.Shutdown(ctx)
		ts.Close()
	})
	e.url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return e
}

func (e *wsEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	tok, _, err := jwtsec.Generate(jwtsec.DefaultOptions(wsSecret), user, nil)
	require.NoError(t, err)
	ws, resp, err := websocket.DefaultDialer.Dial(e.url+"?token="+tok, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) *Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	e := newWsEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRoundTrip(t *testing.T) {
	e := newWsEnv(t)
	alice, bob := e.dial(t, "alice"), e.dial(t, "bob")

	require.Eventually(t, func() bool {
		_, online, _ := e.presence.Lookup(context.Background(), "alice")
		return online
	}, time.Second, 10*time.Millisecond)

	for _, ws := range []*websocket.Conn{alice, bob} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_conversation","data":"c1"}`)))
	}
	require.Eventually(t, func() bool { return e.hub.Members(ConversationRoom("c1")) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"send_message","data":{"conversationId":"c1","content":"over"}}`)))
	f := readFrame(t, bob)
	assert.Equal(t, EventReceiveMessage, f.Event)
	assert.JSONEq(t, `{"conversationId":"c1","content":"over"}`, string(f.Data))

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"event":"nope"}`)))
	f = readFrame(t, bob)
	assert.Equal(t, EventError, f.Event)
	assert.JSONEq(t, `{"event":"nope","error":"Unsupported event"}`, string(f.Data))

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		_, online, _ := e.presence.Lookup(context.Background(), "bob")
		return !online && e.hub.Members(ConversationRoom("c1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownMarksUsersOffline(t *testing.T) {
	e := newWsEnv(t)
	// 每条连接收到一次回复，说明读写协程都已启动
	for _, ws := range []*websocket.Conn{e.dial(t, "alice"), e.dial(t, "alice"), e.dial(t, "bob")} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"nope"}`)))
		assert.Equal(t, EventError, readFrame(t, ws).Event)
	}
	assert.Equal(t, 3, e.conns.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.srv.Shutdown(ctx))

	for _, user := range []string{"alice", "bob"} {
		_, online, err := e.presence.Lookup(context.Background(), user)
		require.NoError(t, err)
		assert.False(t, online, user)
	}
	assert.Equal(t, 0, e.conns.Count())
}
