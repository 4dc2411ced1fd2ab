// Package store holds the persistence ports of the chat module and their
// Mongo, Postgres and in-memory adapters.
//
// Every mutation that must not race is a single conditional write in the
// adapter; callers never read-then-write.
package store

import (
	"context"
	"errors"
	"time"

	"MissionChat/module/chat/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("user already a participant")
	ErrNotParticipant  = errors.New("requester is not a participant")
	ErrDirectImmutable = errors.New("direct conversation membership is fixed")
)

type ConversationStore interface {
	// FindOrCreateDirect inserts c unless a conversation with c.DirectKey exists,
	// in which case the existing one is returned with created=false.
	FindOrCreateDirect(ctx context.Context, c *model.Conversation) (conv *model.Conversation, created bool, err error)
	Create(ctx context.Context, c *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// ListByParticipant orders by UpdatedAt, newest first.
	ListByParticipant(ctx context.Context, user string) ([]*model.Conversation, error)
	AddParticipant(ctx context.Context, id, requester, user string, at time.Time) (*model.Conversation, error)
	// RemoveParticipant deletes the conversation when requester was the last member.
	RemoveParticipant(ctx context.Context, id, requester string, at time.Time) (remaining *model.Conversation, deleted bool, err error)
	// TouchLastMessage never moves LastMessage.SentAt backwards.
	TouchLastMessage(ctx context.Context, id string, last model.LastMessage) error
}

type MessageStore interface {
	Insert(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	Count(ctx context.Context, conversationID string) (int64, error)
	// ListNewestFirst orders by CreatedAt then ID, both descending.
	ListNewestFirst(ctx context.Context, conversationID string, skip, limit int64) ([]*model.Message, error)
	// MarkRead adds a marker for user on every listed message that lacks one
	// and returns how many were changed.
	MarkRead(ctx context.Context, ids []string, user string, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore
	close         func(context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// classify maps a conversation that refused a conditional membership write
// to the reason, in the order callers report them.
func classify(c *model.Conversation, requester, user string) error {
	if c == nil {
		return ErrNotFound
	}
	if !c.HasParticipant(requester) {
		return ErrNotParticipant
	}
	if c.Type == model.ConversationDirect {
		return ErrDirectImmutable
	}
	if user != "" && c.HasParticipant(user) {
		return ErrConflict
	}
	return nil
}

// messageLess is the newest-first ordering shared by all adapters.
func messageLess(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
