package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/module/chat/model"
	"MissionChat/module/chat/store"
	"MissionChat/tools/errs"
	"MissionChat/tools/ids"
	"MissionChat/tools/safe"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachments    []model.Attachment
}

type Page struct {
	Items     []*model.Message
	Total     int64
	Page      int
	PageCount int
}

// MessageLog owns message existence and ordering within a conversation.
type MessageLog struct {
	convs    store.ConversationStore
	msgs     store.MessageStore
	receipts *Receipts
	notifier Notifier
	now      func() time.Time
	maxPage  int
}

func NewMessageLog(convs store.ConversationStore, msgs store.MessageStore, notifier Notifier) *MessageLog {
	safe.MustNotNil(convs, "conversation store")
	safe.MustNotNil(msgs, "message store")
	if notifier == nil {
		notifier = Nop{}
	}
	return &MessageLog{
		convs:    convs,
		msgs:     msgs,
		receipts: NewReceipts(msgs),
		notifier: notifier,
		now:      time.Now,
		maxPage:  MaxPageSize,
	}
}

func (l *MessageLog) WithClock(now func() time.Time) *MessageLog {
	l.now = now
	l.receipts.now = now
	return l
}

// WithMaxPageSize caps the page size callers may ask for.
func (l *MessageLog) WithMaxPageSize(n int) *MessageLog {
	if n > 0 {
		l.maxPage = n
	}
	return l
}

func (l *MessageLog) Receipts() *Receipts {
	return l.receipts
}

// Append stores the message, then moves the conversation's last message
// pointer, then notifies. A notifier failure never fails the append.
func (l *MessageLog) Append(ctx context.Context, in AppendInput) (*model.Message, error) {
	content := strings.TrimSpace(in.Content)
	if strings.TrimSpace(in.ConversationID) == "" || content == "" {
		return nil, errs.Validation("Conversation ID and content are required").Wrap()
	}

	conv, err := l.convs.Get(ctx, in.ConversationID)
	if err != nil {
		return nil, translate(err, "load conversation")
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, errs.Forbidden("Not authorized to send messages in this conversation").Wrap()
	}

	now := l.now().UTC().Truncate(time.Millisecond)
	m := &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: conv.ID,
		Sender:         in.SenderID,
		Content:        content,
		Attachments:    cleanAttachments(in.Attachments),
		ReadBy:         model.NewReadMarkers(in.SenderID, now),
		CreatedAt:      now,
	}
	if err := l.msgs.Insert(ctx, m); err != nil {
		return nil, internal(err, "insert message")
	}
	if err := l.convs.TouchLastMessage(ctx, conv.ID, m.Last()); err != nil {
		// the message is durable; a stale pointer heals on the next append
		logger.Error("touch last message failed", zap.String("conversation", conv.ID), zap.String("message", m.ID), zap.Error(err))
	}

	l.notify("message created", func() { l.notifier.MessageCreated(ctx, conv, m.Clone()) })
	return m, nil
}

// Page returns one page of history counted from the newest end, oldest first
// within the page. Every returned message is marked read by requester.
// pageSize above the configured maximum is clamped.
func (l *MessageLog) Page(ctx context.Context, conversationID, requester string, page, pageSize int) (*Page, error) {
	if page <= 0 || pageSize <= 0 {
		return nil, errs.Validation("page and limit must be positive").Wrap()
	}
	if pageSize > l.maxPage {
		pageSize = l.maxPage
	}

	conv, err := l.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "load conversation")
	}
	if !conv.HasParticipant(requester) {
		return nil, errs.Forbidden("Not authorized to access this conversation").Wrap()
	}

	total, err := l.msgs.Count(ctx, conversationID)
	if err != nil {
		return nil, internal(err, "count messages")
	}
	skip := int64(page-1) * int64(pageSize)
	items, err := l.msgs.ListNewestFirst(ctx, conversationID, skip, int64(pageSize))
	if err != nil {
		return nil, internal(err, "list messages")
	}

	if err := l.receipts.MarkManyRead(ctx, items, requester, l.now()); err != nil {
		return nil, err
	}

	// newest-first from the store, chronological to the caller
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return &Page{
		Items:     items,
		Total:     total,
		Page:      page,
		PageCount: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

// Delete removes a message; only its sender may, and only inside the retraction window.
func (l *MessageLog) Delete(ctx context.Context, messageID, requester string) error {
	m, err := l.msgs.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound("Message not found").Wrap()
	}
	if err != nil {
		return internal(err, "load message")
	}
	if m.Sender != requester {
		return errs.Forbidden("Not authorized to delete this message").Wrap()
	}
	if !m.Retractable(l.now()) {
		return errs.InvalidOperation("Messages can only be deleted within 5 minutes of sending").Wrap()
	}
	if err := l.msgs.Delete(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.NotFound("Message not found").Wrap()
		}
		return internal(err, "delete message")
	}
	l.notify("message deleted", func() { l.notifier.MessageDeleted(ctx, m) })
	return nil
}

func (l *MessageLog) notify(what string, f func()) {
	if err := safe.Run(f); err != nil {
		logger.Error("notifier panicked", zap.String("event", what), zap.Error(err))
	}
}

func cleanAttachments(in []model.Attachment) []model.Attachment {
	out := make([]model.Attachment, 0, len(in))
	for _, a := range in {
		a.FileURL = strings.TrimSpace(a.FileURL)
		if a.FileURL == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
