package natsx

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/tools/errs"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(func(context.Context, Message) error {
		order = append(order, "h")
		return nil
	}, mw("a"), mw("b"))

	require.NoError(t, h(context.Background(), Message{}))
	assert.Equal(t, []string{"a", "b", "h"}, order)
}

func TestRecover(t *testing.T) {
	h := Chain(func(context.Context, Message) error { panic("bad frame") }, Recover())
	err := h(context.Background(), Message{Subject: "x"})
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))

	want := errors.New("plain")
	h = Chain(func(context.Context, Message) error { return want }, Recover(), Logging(0))
	assert.Equal(t, want, h(context.Background(), Message{}))
}

func TestRegisterRoutePrefixesSubject(t *testing.T) {
	c := newClient(Config{SubjectPrefix: "mchat."}, nil)
	require.NoError(t, c.RegisterRoute(Route{Biz: "relay", Subject: "hub.relay"}))

	r, ok := c.route("relay")
	require.True(t, ok)
	assert.Equal(t, "mchat.hub.relay", r.Subject)

	assert.Error(t, c.RegisterRoute(Route{Biz: "", Subject: "x"}))
	assert.Equal(t, "plain", Config{}.Subject("plain"))
}

func TestPublishWithoutConnection(t *testing.T) {
	m := newManager(newClient(Config{}, nil))
	assert.Error(t, m.Publish(context.Background(), "missing", nil, nil))

	require.NoError(t, m.RegisterRoute(Route{Biz: "b", Subject: "s"}))
	assert.Error(t, m.Publish(context.Background(), "b", []byte("x"), nil))
	assert.Error(t, m.Subscribe("b", func(context.Context, Message) error { return nil }))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := toHeader(map[string]string{"Origin": "node-1"})
	assert.Equal(t, "node-1", h.Get("Origin"))
	assert.Equal(t, map[string]string{"Origin": "node-1"}, headerToMap(h))
	assert.Nil(t, headerToMap(nats.Header{}))
}

type fakeStreams struct {
	streams map[string]*nats.StreamConfig
	updates int
}

func (f *fakeStreams) StreamInfo(name string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	cfg, ok := f.streams[name]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeStreams) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeStreams) UpdateStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.updates++
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestEnsureStream(t *testing.T) {
	js := &fakeStreams{streams: map[string]*nats.StreamConfig{}}

	require.NoError(t, ensureStream(js, "MISSIONS", "mchat.mission.update"))
	require.Contains(t, js.streams, "MISSIONS")
	assert.Equal(t, []string{"mchat.mission.update"}, js.streams["MISSIONS"].Subjects)
	assert.Equal(t, nats.FileStorage, js.streams["MISSIONS"].Storage)

	// 已有主题不重复更新
	require.NoError(t, ensureStream(js, "MISSIONS", "mchat.mission.update"))
	assert.Equal(t, 0, js.updates)

	require.NoError(t, ensureStream(js, "MISSIONS", "mchat.mission.audit"))
	assert.Equal(t, 1, js.updates)
	assert.Equal(t, []string{"mchat.mission.update", "mchat.mission.audit"}, js.streams["MISSIONS"].Subjects)
}

func TestJetStreamRouteNeedsConnection(t *testing.T) {
	c := newClient(Config{}, nil)
	err := c.RegisterRoute(Route{Biz: "m", Subject: "mission.update", Mode: JetStreamPush, Stream: "MISSIONS", Durable: "mc"})
	assert.Error(t, err)
	_, ok := c.route("m")
	assert.False(t, ok)
}
