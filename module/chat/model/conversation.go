package model

import (
	"sort"
	"strings"
	"time"
)

const ConversationTable = "conversation"

// ConversationType 会话类型
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"  // 单聊，固定两人
	ConversationGroup   ConversationType = "group"   // 群聊
	ConversationMission ConversationType = "mission" // 任务会话，关联 mission
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationMission:
		return true
	}
	return false
}

// LastMessage 是最近一条消息的快照，列表页不用再查消息表
type LastMessage struct {
	Content string    `bson:"content" json:"content"`
	Sender  string    `bson:"sender" json:"sender"`
	SentAt  time.Time `bson:"sent_at" json:"sentAt"`
}

type Conversation struct {
	ID           string           `bson:"_id" json:"_id"`
	Type         ConversationType `bson:"type" json:"type"`
	Participants []string         `bson:"participants" json:"participants"`
	Mission      *string          `bson:"mission,omitempty" json:"mission,omitempty"` // 仅 mission 类型
	Title        *string          `bson:"title,omitempty" json:"title,omitempty"`     // direct 没有标题
	LastMessage  *LastMessage     `bson:"last_message,omitempty" json:"lastMessage,omitempty"`

	// DirectKey is set only for direct conversations and backs the unique index
	// that makes find-or-create atomic.
	DirectKey string `bson:"direct_key,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (c *Conversation) GetTableName() string {
	return ConversationTable
}

func (c *Conversation) HasParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so in-memory stores never hand out shared slices.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.Mission != nil {
		m := *c.Mission
		out.Mission = &m
	}
	if c.Title != nil {
		t := *c.Title
		out.Title = &t
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// DirectKeyFor is order independent: DirectKeyFor(a, b) == DirectKeyFor(b, a).
func DirectKeyFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct:" + strings.Join(pair, "|")
}
