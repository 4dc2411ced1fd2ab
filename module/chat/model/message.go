package model

import "time"

const (
	MessageTable = "message"

	// RetractionWindow 发送后可撤回的时长
	RetractionWindow = 5 * time.Minute
)

type Attachment struct {
	FileURL  string `bson:"file_url" json:"fileUrl"`
	FileType string `bson:"file_type" json:"fileType"`
	FileName string `bson:"file_name" json:"fileName"`
}

// Message is immutable after insert except for ReadBy growing.
type Message struct {
	ID             string       `bson:"_id" json:"_id"` // snowflake, breaks CreatedAt ties
	ConversationID string       `bson:"conversation_id" json:"conversationId"`
	Sender         string       `bson:"sender" json:"sender"`
	Content        string       `bson:"content" json:"content"`
	Attachments    []Attachment `bson:"attachments,omitempty" json:"attachments"`
	ReadBy         ReadMarkers  `bson:"read_by" json:"readBy"`
	CreatedAt      time.Time    `bson:"created_at" json:"createdAt"`
}

func (m *Message) GetTableName() string {
	return MessageTable
}

// Retractable reports whether the sender may still delete the message at now.
// The window is half open: at exactly CreatedAt+RetractionWindow it is closed.
func (m *Message) Retractable(now time.Time) bool {
	return now.Before(m.CreatedAt.Add(RetractionWindow))
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.ReadBy = m.ReadBy.Clone()
	return &out
}

func (m *Message) Last() LastMessage {
	return LastMessage{Content: m.Content, Sender: m.Sender, SentAt: m.CreatedAt}
}

// Profile is the display projection of a user, supplied by the user service.
type Profile struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}
