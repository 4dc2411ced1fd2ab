package service

import (
	"context"
	"errors"
	"time"

	"MissionChat/module/chat/model"
	"MissionChat/module/chat/store"
	"MissionChat/tools/errs"
)

// Receipts is a projection over the read markers embedded in messages.
type Receipts struct {
	msgs store.MessageStore
	now  func() time.Time
}

func NewReceipts(msgs store.MessageStore) *Receipts {
	return &Receipts{msgs: msgs, now: time.Now}
}

// MarkRead is idempotent: an existing marker keeps its original time.
func (r *Receipts) MarkRead(ctx context.Context, messageID, user string, at time.Time) error {
	if _, err := r.msgs.MarkRead(ctx, []string{messageID}, user, at.UTC().Truncate(time.Millisecond)); err != nil {
		return internal(err, "mark read")
	}
	return nil
}

// MarkManyRead marks msgs for user and updates them in place, so callers
// see the new markers without re-reading.
func (r *Receipts) MarkManyRead(ctx context.Context, msgs []*model.Message, user string, at time.Time) error {
	at = at.UTC().Truncate(time.Millisecond)
	pending := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if !m.ReadBy.Has(user) {
			pending = append(pending, m.ID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if _, err := r.msgs.MarkRead(ctx, pending, user, at); err != nil {
		return internal(err, "mark read")
	}
	for _, m := range msgs {
		if m.ReadBy == nil {
			m.ReadBy = model.ReadMarkers{}
		}
		m.ReadBy.Mark(user, at)
	}
	return nil
}

func (r *Receipts) IsReadBy(ctx context.Context, messageID, user string) (bool, error) {
	m, err := r.msgs.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return false, errs.NotFound("Message not found").Wrap()
	}
	if err != nil {
		return false, internal(err, "load message")
	}
	return m.ReadBy.Has(user), nil
}
