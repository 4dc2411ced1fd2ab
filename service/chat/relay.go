package chat

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/service/natsx"
	"MissionChat/tools/errs"
)

const (
	BizHubRelay      = "hub.relay"
	BizMissionUpdate = "mission.update"

	hdrOrigin = "Mc-Origin"
	hdrRoom   = "Mc-Room"
)

// Bus is the part of natsx.Manager the relay needs.
type Bus interface {
	RegisterRoute(r natsx.Route) error
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
	Subscribe(biz string, h natsx.Handler) error
}

// NatsRelay 把本节点的广播镜像到其他节点；同时接收任务流程的 mission.update
type NatsRelay struct {
	bus    Bus
	node   string
	queue  string
	stream string
	hub    *Hub
}

// NewNatsRelay: queue is the queue group shared by all nodes for inbound mission updates.
func NewNatsRelay(bus Bus, node, queue string) *NatsRelay {
	if queue == "" {
		queue = "missionchat"
	}
	return &NatsRelay{bus: bus, node: node, queue: queue}
}

// WithMissionStream consumes mission.update through a durable JetStream
// consumer on stream, so updates published while every node is down are
// replayed. Empty keeps plain Core delivery.
func (r *NatsRelay) WithMissionStream(stream string) *NatsRelay {
	r.stream = stream
	return r
}

// Start 注册路由并订阅，然后挂到 hub 上
func (r *NatsRelay) Start(h *Hub) error {
	// 广播：每个节点都要收到
	if err := r.bus.RegisterRoute(natsx.Route{Biz: BizHubRelay, Subject: BizHubRelay, Mode: natsx.Core}); err != nil {
		return errs.WrapMsg(err, "register relay route")
	}
	if err := r.registerMissionRoute(); err != nil {
		return errs.WrapMsg(err, "register mission route")
	}
	r.hub = h
	if err := r.bus.Subscribe(BizHubRelay, r.onRelay); err != nil {
		return errs.WrapMsg(err, "subscribe relay")
	}
	if err := r.bus.Subscribe(BizMissionUpdate, r.onMissionUpdate); err != nil {
		return errs.WrapMsg(err, "subscribe mission updates")
	}
	h.SetRelay(r)
	logger.Info("hub relay started", zap.String("node", r.node))
	return nil
}

// 任务更新只需一个节点接收，再由 hub 广播
func (r *NatsRelay) registerMissionRoute() error {
	core := natsx.Route{Biz: BizMissionUpdate, Subject: BizMissionUpdate, Mode: natsx.Core, Queue: r.queue}
	if r.stream == "" {
		return r.bus.RegisterRoute(core)
	}
	js := core
	js.Mode = natsx.JetStreamPush
	js.Stream = r.stream
	js.Durable = r.queue
	err := r.bus.RegisterRoute(js)
	if err == nil {
		return nil
	}
	logger.Warn("jetstream unavailable, mission updates fall back to core",
		zap.String("stream", r.stream), zap.Error(err))
	return r.bus.RegisterRoute(core)
}

func (r *NatsRelay) Forward(ctx context.Context, room string, frame []byte) error {
	return r.bus.Publish(ctx, BizHubRelay, frame, map[string]string{
		hdrOrigin: r.node,
		hdrRoom:   room,
	})
}

func (r *NatsRelay) onRelay(_ context.Context, msg natsx.Message) error {
	if msg.Header[hdrOrigin] == r.node {
		return nil
	}
	room := msg.Header[hdrRoom]
	if room == "" || len(msg.Data) == 0 {
		logger.Warn("relay frame without room", zap.String("subject", msg.Subject))
		return nil
	}
	r.hub.DeliverLocal(room, msg.Data)
	return nil
}

type missionEnvelope struct {
	MissionID string          `json:"missionId"`
	Update    json.RawMessage `json:"update"`
}

// onMissionUpdate 消费任务流程发布的 {missionId, update}
func (r *NatsRelay) onMissionUpdate(ctx context.Context, msg natsx.Message) error {
	var env missionEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logger.Warn("drop malformed mission update", zap.String("subject", msg.Subject), zap.Error(err))
		return nil
	}
	// 非法消息直接丢弃，返回错误会让 JetStream 无限重投
	if err := r.hub.MissionUpdated(ctx, strings.TrimSpace(env.MissionID), env.Update); err != nil {
		logger.Warn("drop invalid mission update", zap.String("subject", msg.Subject), zap.Error(err))
	}
	return nil
}
