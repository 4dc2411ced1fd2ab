package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/service/natsx"
)

// loopBus 模拟 NATS：发布同步投递给所有节点的订阅者；带 Queue 的路由只投递一个
type loopBus struct {
	noJS   bool
	mu     sync.Mutex
	routes map[string]natsx.Route
	subs   map[string][]natsx.Handler
}

func newLoopBus() *loopBus {
	return &loopBus{routes: map[string]natsx.Route{}, subs: map[string][]natsx.Handler{}}
}

func (b *loopBus) RegisterRoute(r natsx.Route) error {
	if r.Mode == natsx.JetStreamPush && b.noJS {
		return fmt.Errorf("jetstream not enabled")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[r.Biz] = r
	return nil
}

func (b *loopBus) Subscribe(biz string, h natsx.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.routes[biz]; !ok {
		return fmt.Errorf("route %s not registered", biz)
	}
	b.subs[biz] = append(b.subs[biz], h)
	return nil
}

func (b *loopBus) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	b.mu.Lock()
	r, ok := b.routes[biz]
	subs := append([]natsx.Handler(nil), b.subs[biz]...)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("route %s not registered", biz)
	}
	if r.Queue != "" && len(subs) > 1 {
		subs = subs[:1]
	}
	for _, h := range subs {
		if err := h(ctx, natsx.Message{Subject: r.Subject, Data: data, Header: hdr}); err != nil {
			return err
		}
	}
	return nil
}

func TestRelayMirrorsPublishesAcrossNodes(t *testing.T) {
	bus := newLoopBus()
	h1, h2 := newTestHub(t), newTestHub(t)
	require.NoError(t, NewNatsRelay(bus, "node-1", "").Start(h1))
	require.NoError(t, NewNatsRelay(bus, "node-2", "").Start(h2))

	local, remote := NewClient("a", "alice", 8), NewClient("b", "bob", 8)
	room := ConversationRoom("c1")
	require.NoError(t, h1.Join(room, local))
	require.NoError(t, h2.Join(room, remote))

	require.NoError(t, h1.Publish(context.Background(), room, EventReceiveMessage, map[string]string{"content": "hi"}))

	assert.JSONEq(t, `{"content":"hi"}`, string(recv(t, remote).Data))
	// 自己节点发出的帧不会被回环投递第二次
	assert.Equal(t, EventReceiveMessage, recv(t, local).Event)
	silent(t, local)
}

func TestRelayInboundMissionUpdate(t *testing.T) {
	bus := newLoopBus()
	h1, h2 := newTestHub(t), newTestHub(t)
	require.NoError(t, NewNatsRelay(bus, "node-1", "mc").Start(h1))
	require.NoError(t, NewNatsRelay(bus, "node-2", "mc").Start(h2))

	a, b := NewClient("a", "alice", 8), NewClient("b", "bob", 8)
	require.NoError(t, h1.Join(MissionRoom("m7"), a))
	require.NoError(t, h2.Join(MissionRoom("m7"), b))

	err := bus.Publish(context.Background(), BizMissionUpdate, []byte(`{"missionId":"m7","update":{"eta":5}}`), nil)
	require.NoError(t, err)

	for _, c := range []*Client{a, b} {
		f := recv(t, c)
		assert.Equal(t, EventMissionUpdated, f.Event)
		assert.JSONEq(t, `{"eta":5}`, string(f.Data))
		silent(t, c)
	}

	assert.NoError(t, bus.Publish(context.Background(), BizMissionUpdate, []byte(`not json`), nil))
	assert.NoError(t, bus.Publish(context.Background(), BizMissionUpdate, []byte(`{"missionId":" ","update":{}}`), nil))
}

func TestRelayMissionStream(t *testing.T) {
	bus := newLoopBus()
	h := newTestHub(t)
	require.NoError(t, NewNatsRelay(bus, "node-1", "mc").WithMissionStream("MISSIONS").Start(h))

	r := bus.routes[BizMissionUpdate]
	assert.Equal(t, natsx.JetStreamPush, r.Mode)
	assert.Equal(t, "MISSIONS", r.Stream)
	assert.Equal(t, "mc", r.Durable)
	assert.Equal(t, "mc", r.Queue)
	assert.Equal(t, natsx.Core, bus.routes[BizHubRelay].Mode, "hub relay stays on core")

	a := NewClient("a", "alice", 8)
	require.NoError(t, h.Join(MissionRoom("m1"), a))
	body := `{"missionId":"m1","status":"in_progress"}`
	require.NoError(t, bus.Publish(context.Background(), BizMissionUpdate, []byte(`{"missionId":"m1","update":`+body+`}`), nil))
	assert.JSONEq(t, body, string(recv(t, a).Data))
}

func TestRelayMissionStreamFallsBackToCore(t *testing.T) {
	bus := newLoopBus()
	bus.noJS = true
	require.NoError(t, NewNatsRelay(bus, "node-1", "mc").WithMissionStream("MISSIONS").Start(newTestHub(t)))

	r := bus.routes[BizMissionUpdate]
	assert.Equal(t, natsx.Core, r.Mode)
	assert.Empty(t, r.Stream)
	assert.Equal(t, "mc", r.Queue)
}
