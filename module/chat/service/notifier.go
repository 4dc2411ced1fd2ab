package service

import (
	"context"

	"MissionChat/module/chat/model"
)

// Notifier fans durable message events out to live and downstream consumers.
// Implementations must not block on I/O; MessageLog calls them inline.
type Notifier interface {
	MessageCreated(ctx context.Context, conv *model.Conversation, m *model.Message)
	MessageDeleted(ctx context.Context, m *model.Message)
}

type Nop struct{}

func (Nop) MessageCreated(context.Context, *model.Conversation, *model.Message) {}
func (Nop) MessageDeleted(context.Context, *model.Message)                      {}

// Notifiers calls each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) MessageCreated(ctx context.Context, conv *model.Conversation, m *model.Message) {
	for _, n := range ns {
		n.MessageCreated(ctx, conv, m)
	}
}

func (ns Notifiers) MessageDeleted(ctx context.Context, m *model.Message) {
	for _, n := range ns {
		n.MessageDeleted(ctx, m)
	}
}
