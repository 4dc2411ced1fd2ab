package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/module/chat/model"
	"MissionChat/module/chat/store"
	"MissionChat/tools/errs"
	"MissionChat/tools/safe"
)

type CreateInput struct {
	Type           model.ConversationType
	InitiatorID    string
	ParticipantIDs []string
	Mission        *string
	Title          *string
}

// Directory owns conversation existence and membership.
type Directory struct {
	convs store.ConversationStore
	now   func() time.Time
	newID func() string
}

func NewDirectory(convs store.ConversationStore) *Directory {
	safe.MustNotNil(convs, "conversation store")
	return &Directory{
		convs: convs,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// CreateOrGet creates a conversation, or returns the existing direct conversation
// between the same two users with created=false.
func (d *Directory) CreateOrGet(ctx context.Context, in CreateInput) (*model.Conversation, bool, error) {
	if len(in.ParticipantIDs) == 0 {
		return nil, false, errs.Validation("Participants are required").Wrap()
	}
	if !in.Type.Valid() {
		return nil, false, errs.Validation("Conversation type must be direct, group or mission").Wrap()
	}
	if strings.TrimSpace(in.InitiatorID) == "" {
		return nil, false, errs.Unauthorized("Not authorized").Wrap()
	}

	participants := normalizeParticipants(in.InitiatorID, in.ParticipantIDs)
	now := d.now().UTC().Truncate(time.Millisecond)
	c := &model.Conversation{
		ID:           d.newID(),
		Type:         in.Type,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Type == model.ConversationMission {
		c.Mission = trimmed(in.Mission)
	}
	if in.Type != model.ConversationDirect {
		c.Title = trimmed(in.Title)
	}

	if in.Type != model.ConversationDirect {
		if err := d.convs.Create(ctx, c); err != nil {
			return nil, false, internal(err, "create conversation")
		}
		logger.Debug("conversation created", zap.String("id", c.ID), zap.String("type", string(c.Type)))
		return c, true, nil
	}

	if len(participants) != 2 {
		return nil, false, errs.Validation("A direct conversation needs exactly two participants").Wrap()
	}
	c.DirectKey = model.DirectKeyFor(participants[0], participants[1])
	out, created, err := d.convs.FindOrCreateDirect(ctx, c)
	if err != nil {
		return nil, false, internal(err, "find or create direct")
	}
	return out, created, nil
}

func (d *Directory) ListForUser(ctx context.Context, user string) ([]*model.Conversation, error) {
	list, err := d.convs.ListByParticipant(ctx, user)
	if err != nil {
		return nil, internal(err, "list conversations")
	}
	return list, nil
}

func (d *Directory) GetByID(ctx context.Context, id, requester string) (*model.Conversation, error) {
	c, err := d.convs.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "get conversation")
	}
	if !c.HasParticipant(requester) {
		return nil, errs.Forbidden("Not authorized to access this conversation").Wrap()
	}
	return c, nil
}

func (d *Directory) AddParticipant(ctx context.Context, id, requester, newUser string) (*model.Conversation, error) {
	newUser = strings.TrimSpace(newUser)
	if newUser == "" {
		return nil, errs.Validation("User ID is required").Wrap()
	}
	c, err := d.convs.AddParticipant(ctx, id, requester, newUser, d.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return nil, translate(err, "add participant")
	}
	return c, nil
}

// RemoveParticipant removes requester; deleted reports that the conversation
// had no members left and is gone.
func (d *Directory) RemoveParticipant(ctx context.Context, id, requester string) (bool, error) {
	_, deleted, err := d.convs.RemoveParticipant(ctx, id, requester, d.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return false, translate(err, "remove participant")
	}
	if deleted {
		logger.Debug("conversation deleted after last participant left", zap.String("id", id))
	}
	return deleted, nil
}

// normalizeParticipants keeps first-seen order, drops blanks and duplicates,
// and appends the initiator when absent.
func normalizeParticipants(initiator string, ids []string) []string {
	seen := make(map[string]struct{}, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if _, ok := seen[initiator]; !ok {
		out = append(out, initiator)
	}
	return out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// translate maps store sentinels onto the error taxonomy.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NotFound("Conversation not found").Wrap()
	case errors.Is(err, store.ErrNotParticipant):
		return errs.Forbidden("Not authorized to modify this conversation").Wrap()
	case errors.Is(err, store.ErrDirectImmutable):
		return errs.InvalidOperation("Cannot change participants of a direct conversation").Wrap()
	case errors.Is(err, store.ErrConflict):
		return errs.Conflict("User is already a participant").Wrap()
	}
	return internal(err, op)
}

func internal(err error, op string) error {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		return err
	}
	return errs.WrapMsg(err, op)
}
