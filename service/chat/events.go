package chat

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"MissionChat/module/chat/model"
	"MissionChat/tools/decode"
	"MissionChat/tools/errs"
)

// ConversationGuard decides whether a user may join a conversation room.
// *service.Directory satisfies it.
type ConversationGuard interface {
	GetByID(ctx context.Context, id, requester string) (*model.Conversation, error)
}

// Events 注册客户端事件处理
type Events struct {
	hub   *Hub
	guard ConversationGuard
}

func NewEvents(h *Hub, guard ConversationGuard) *Events {
	return &Events{hub: h, guard: guard}
}

func (e *Events) Register(d *Dispatcher) {
	d.Register(EventJoinConversation, e.joinConversation)
	d.Register(EventLeaveConversation, e.leaveConversation)
	d.Register(EventSendMessage, e.sendMessage)
	d.Register(EventTyping, e.typing)
	d.Register(EventJoinMission, e.joinMission)
	d.Register(EventLeaveMission, e.leaveMission)
	d.Register(EventMissionUpdate, e.missionUpdate)
}

func loose(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.Validation("Invalid event payload").WrapMsg(err.Error())
	}
	return v, nil
}

func readID(data json.RawMessage, key, label string) (string, error) {
	v, err := loose(data)
	if err != nil {
		return "", err
	}
	id, err := decode.ID(v, key)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", errs.Validation(label + " is required").Wrap()
	}
	return strings.TrimSpace(id), nil
}

func (e *Events) joinConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	id, err := readID(data, "conversationId", "Conversation ID")
	if err != nil {
		return err
	}
	if e.guard != nil {
		if _, err := e.guard.GetByID(ctx, id, c.UserID); err != nil {
			return err
		}
	}
	return e.hub.Join(ConversationRoom(id), c)
}

func (e *Events) leaveConversation(_ context.Context, c *Client, data json.RawMessage) error {
	id, err := readID(data, "conversationId", "Conversation ID")
	if err != nil {
		return err
	}
	e.hub.Leave(ConversationRoom(id), c)
	return nil
}

func (e *Events) joinMission(_ context.Context, c *Client, data json.RawMessage) error {
	id, err := readID(data, "missionId", "Mission ID")
	if err != nil {
		return err
	}
	return e.hub.Join(MissionRoom(id), c)
}

func (e *Events) leaveMission(_ context.Context, c *Client, data json.RawMessage) error {
	id, err := readID(data, "missionId", "Mission ID")
	if err != nil {
		return err
	}
	e.hub.Leave(MissionRoom(id), c)
	return nil
}

type roomRef struct {
	ConversationID string `json:"conversationId"`
}

// joinedRoom 读取 conversationId 并确认连接已在房间内
func joinedRoom(c *Client, v any) (string, error) {
	ref, err := decode.Payload[roomRef](v)
	if err != nil || strings.TrimSpace(ref.ConversationID) == "" {
		return "", errs.Validation("Conversation ID is required").Wrap()
	}
	room := ConversationRoom(strings.TrimSpace(ref.ConversationID))
	if !c.InRoom(room) {
		return "", errs.Forbidden("Join the conversation first").Wrap()
	}
	return room, nil
}

// sendMessage 快速回显：payload 原样作为 receive_message 发给房间（含发送者）。
// 持久化走 REST，这里不落库。
func (e *Events) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	v, err := loose(data)
	if err != nil {
		return err
	}
	room, err := joinedRoom(c, v)
	if err != nil {
		return err
	}
	return e.hub.Publish(ctx, room, EventReceiveMessage, data)
}

type typingIn struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

type typingOut struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (e *Events) typing(ctx context.Context, c *Client, data json.RawMessage) error {
	v, err := loose(data)
	if err != nil {
		return err
	}
	room, err := joinedRoom(c, v)
	if err != nil {
		return err
	}
	in, err := decode.Payload[typingIn](v)
	if err != nil {
		return errs.Validation("Invalid typing payload").WrapMsg(err.Error())
	}
	// userId 以鉴权身份为准
	return e.hub.PublishToOthers(ctx, room, c, EventUserTyping, typingOut{UserID: c.UserID, Username: in.Username})
}

type missionUpdateIn struct {
	MissionID string `json:"missionId"`
}

// missionUpdate 原样转发为 mission_updated
func (e *Events) missionUpdate(ctx context.Context, _ *Client, data json.RawMessage) error {
	v, err := loose(data)
	if err != nil {
		return err
	}
	in, err := decode.Payload[missionUpdateIn](v)
	if err != nil || strings.TrimSpace(in.MissionID) == "" {
		return errs.Validation("Mission ID is required").Wrap()
	}
	return e.hub.Publish(ctx, MissionRoom(strings.TrimSpace(in.MissionID)), EventMissionUpdated, data)
}
