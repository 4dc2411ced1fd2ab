package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"MissionChat/module/chat/model"
)

// MemConversations 内存实现；用于测试和单机开发 (STORE_DRIVER=memory)
type MemConversations struct {
	mu       sync.RWMutex
	byID     map[string]*model.Conversation
	byDirect map[string]string // direct_key -> id, UNIQUE
}

func NewMemConversations() *MemConversations {
	return &MemConversations{
		byID:     make(map[string]*model.Conversation),
		byDirect: make(map[string]string),
	}
}

func NewMemStores() *Stores {
	return &Stores{Conversations: NewMemConversations(), Messages: NewMemMessages()}
}

func (s *MemConversations) FindOrCreateDirect(_ context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byDirect[c.DirectKey]; ok {
		return s.byID[id].Clone(), false, nil
	}
	s.insertLocked(c)
	return c.Clone(), true, nil
}

func (s *MemConversations) Create(_ context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return ErrConflict
	}
	if c.DirectKey != "" {
		if _, ok := s.byDirect[c.DirectKey]; ok {
			return ErrConflict
		}
	}
	s.insertLocked(c)
	return nil
}

func (s *MemConversations) insertLocked(c *model.Conversation) {
	s.byID[c.ID] = c.Clone()
	if c.DirectKey != "" {
		s.byDirect[c.DirectKey] = c.ID
	}
}

func (s *MemConversations) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemConversations) ListByParticipant(_ context.Context, user string) ([]*model.Conversation, error) {
	s.mu.RLock()
	out := make([]*model.Conversation, 0)
	for _, c := range s.byID {
		if c.HasParticipant(user) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemConversations) AddParticipant(_ context.Context, id, requester, user string, at time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.byID[id]
	if err := classify(c, requester, user); err != nil {
		return nil, err
	}
	c.Participants = append(c.Participants, user)
	bump(c, at)
	return c.Clone(), nil
}

func (s *MemConversations) RemoveParticipant(_ context.Context, id, requester string, at time.Time) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.byID[id]
	if err := classify(c, requester, ""); err != nil {
		return nil, false, err
	}
	kept := c.Participants[:0]
	for _, p := range c.Participants {
		if p != requester {
			kept = append(kept, p)
		}
	}
	c.Participants = kept
	if len(kept) == 0 {
		delete(s.byID, id)
		return nil, true, nil
	}
	bump(c, at)
	return c.Clone(), false, nil
}

func (s *MemConversations) TouchLastMessage(_ context.Context, id string, last model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		// deleted after the append; nothing to point at
		return nil
	}
	if c.LastMessage == nil || !c.LastMessage.SentAt.After(last.SentAt) {
		lm := last
		c.LastMessage = &lm
	}
	bump(c, last.SentAt)
	return nil
}

func bump(c *model.Conversation, at time.Time) {
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

// MemMessages 内存消息表
type MemMessages struct {
	mu     sync.RWMutex
	byID   map[string]*model.Message
	byConv map[string]map[string]*model.Message // conv -> id -> msg
}

func NewMemMessages() *MemMessages {
	return &MemMessages{
		byID:   make(map[string]*model.Message),
		byConv: make(map[string]map[string]*model.Message),
	}
}

func (s *MemMessages) Insert(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return ErrConflict
	}
	cp := m.Clone()
	s.byID[m.ID] = cp
	if s.byConv[m.ConversationID] == nil {
		s.byConv[m.ConversationID] = make(map[string]*model.Message)
	}
	s.byConv[m.ConversationID][m.ID] = cp
	return nil
}

func (s *MemMessages) Get(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemMessages) Count(_ context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byConv[conversationID])), nil
}

func (s *MemMessages) ListNewestFirst(_ context.Context, conversationID string, skip, limit int64) ([]*model.Message, error) {
	s.mu.RLock()
	all := make([]*model.Message, 0, len(s.byConv[conversationID]))
	for _, m := range s.byConv[conversationID] {
		all = append(all, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return messageLess(all[i], all[j]) })
	if skip >= int64(len(all)) {
		return []*model.Message{}, nil
	}
	end := int64(len(all))
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return all[skip:end], nil
}

func (s *MemMessages) MarkRead(_ context.Context, ids []string, user string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = model.ReadMarkers{}
		}
		if m.ReadBy.Mark(user, at) {
			n++
		}
	}
	return n, nil
}

func (s *MemMessages) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byConv[m.ConversationID], id)
	if len(s.byConv[m.ConversationID]) == 0 {
		delete(s.byConv, m.ConversationID)
	}
	return nil
}
