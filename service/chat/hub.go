package chat

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/errs"
)

const (
	conversationPrefix = "conversation:"
	missionPrefix      = "mission:"
)

func ConversationRoom(id string) string { return conversationPrefix + id }

func MissionRoom(id string) string { return missionPrefix + id }

// Relay forwards an encoded frame to the other nodes of the cluster.
type Relay interface {
	Forward(ctx context.Context, room string, frame []byte) error
}

type HubConfig struct {
	Shards    int
	Workers   int
	QueueSize int
}

func (c *HubConfig) norm() {
	if c.Shards <= 0 {
		c.Shards = 32
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Hub 维护房间成员关系并广播帧。
// 不做业务鉴权：谁能进哪个房间由上层事件处理决定。
type Hub struct {
	shards []*shard
	fanout *Fanout

	relayMu sync.RWMutex
	relay   Relay
}

func NewHub(conf HubConfig) *Hub {
	conf.norm()
	h := &Hub{
		shards: make([]*shard, conf.Shards),
		fanout: NewFanout(conf.Workers, conf.QueueSize),
	}
	for i := range h.shards {
		h.shards[i] = &shard{rooms: make(map[string]map[*Client]struct{})}
	}
	return h
}

// SetRelay 开启跨节点广播；nil 关闭
func (h *Hub) SetRelay(r Relay) {
	h.relayMu.Lock()
	h.relay = r
	h.relayMu.Unlock()
}

func (h *Hub) shardFor(room string) *shard {
	return h.shards[xxhash.Sum64String(room)%uint64(len(h.shards))]
}

// Join is idempotent.
func (h *Hub) Join(room string, c *Client) error {
	if room == "" || c == nil {
		return errs.Validation("room and client are required").Wrap()
	}
	sh := h.shardFor(room)
	sh.mu.Lock()
	members := sh.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		sh.rooms[room] = members
	}
	members[c] = struct{}{}
	sh.mu.Unlock()
	c.addRoom(room)
	return nil
}

// Leave removes c from room; the room itself goes away with its last member.
func (h *Hub) Leave(room string, c *Client) {
	if room == "" || c == nil {
		return
	}
	sh := h.shardFor(room)
	sh.mu.Lock()
	if members := sh.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(sh.rooms, room)
		}
	}
	sh.mu.Unlock()
	c.removeRoom(room)
}

// Drop 断线时调用，退出该连接所在的全部房间
func (h *Hub) Drop(c *Client) {
	if c == nil {
		return
	}
	for _, room := range c.Rooms() {
		h.Leave(room, c)
	}
}

func (h *Hub) snapshot(room string) []*Client {
	sh := h.shardFor(room)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	members := sh.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Members returns the number of local members of room.
func (h *Hub) Members(room string) int {
	sh := h.shardFor(room)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.rooms[room])
}

// Rooms returns the number of non-empty rooms on this node.
func (h *Hub) Rooms() int {
	n := 0
	for _, sh := range h.shards {
		sh.mu.RLock()
		n += len(sh.rooms)
		sh.mu.RUnlock()
	}
	return n
}

// Publish sends event to every member of room, here and on other nodes.
// It never blocks on slow clients; only an unencodable payload is an error.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) error {
	return h.publish(ctx, room, nil, event, payload)
}

// PublishToOthers is Publish minus the origin connection.
func (h *Hub) PublishToOthers(ctx context.Context, room string, origin *Client, event string, payload any) error {
	return h.publish(ctx, room, origin, event, payload)
}

func (h *Hub) publish(ctx context.Context, room string, skip *Client, event string, payload any) error {
	if room == "" {
		return errs.Validation("room is required").Wrap()
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return errs.Validation("Invalid event payload").WrapMsg(err.Error(), "event", event)
	}
	h.deliverLocal(room, skip, frame)

	h.relayMu.RLock()
	r := h.relay
	h.relayMu.RUnlock()
	if r != nil {
		if err := r.Forward(ctx, room, frame); err != nil {
			logger.Warn("relay forward failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		}
	}
	return nil
}

// DeliverLocal 只投递本节点成员，供 relay 入站使用
func (h *Hub) DeliverLocal(room string, frame []byte) {
	h.deliverLocal(room, nil, frame)
}

func (h *Hub) deliverLocal(room string, skip *Client, frame []byte) {
	members := h.snapshot(room)
	if len(members) == 0 {
		return
	}
	h.fanout.Submit(room, members, skip, frame)
}

// MissionUpdated broadcasts a workflow update verbatim as mission_updated.
// missionID only selects the room.
func (h *Hub) MissionUpdated(ctx context.Context, missionID string, update []byte) error {
	if missionID == "" {
		return errs.Validation("Mission ID is required").Wrap()
	}
	if len(update) == 0 {
		return errs.Validation("Mission update is required").Wrap()
	}
	return h.Publish(ctx, MissionRoom(missionID), EventMissionUpdated, json.RawMessage(update))
}

func (h *Hub) Close() {
	h.fanout.Close()
}
