package chat

import (
	"context"

	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/module/chat/model"
)

// HubNotifier pushes stored messages to the conversation room.
// Clients that already got the send_message echo dedupe by message _id.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(h *Hub) *HubNotifier { return &HubNotifier{hub: h} }

func (n *HubNotifier) MessageCreated(ctx context.Context, conv *model.Conversation, m *model.Message) {
	if m == nil {
		return
	}
	if err := n.hub.Publish(ctx, ConversationRoom(m.ConversationID), EventReceiveMessage, m); err != nil {
		logger.Warn("push receive_message failed", zap.String("message", m.ID), zap.Error(err))
	}
}

type deletedPayload struct {
	ID             string `json:"_id"`
	ConversationID string `json:"conversationId"`
}

func (n *HubNotifier) MessageDeleted(ctx context.Context, m *model.Message) {
	if m == nil {
		return
	}
	err := n.hub.Publish(ctx, ConversationRoom(m.ConversationID), EventMessageDeleted,
		deletedPayload{ID: m.ID, ConversationID: m.ConversationID})
	if err != nil {
		logger.Warn("push message_deleted failed", zap.String("message", m.ID), zap.Error(err))
	}
}
