package chat

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// 客户端 <-> 服务端事件名
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventReceiveMessage    = "receive_message"
	EventMessageDeleted    = "message_deleted"
	EventTyping            = "typing"
	EventUserTyping        = "user_typing"
	EventJoinMission       = "join_mission"
	EventLeaveMission      = "leave_mission"
	EventMissionUpdate     = "mission_update"
	EventMissionUpdated    = "mission_updated"
	EventError             = "error"
)

// Frame is the text frame exchanged over the socket: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals payload once; json.RawMessage and []byte holding JSON are embedded as is.
func EncodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("encode %s: payload is not valid JSON", event)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func DecodeFrame(raw []byte) (*Frame, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame without event")
	}
	return f, nil
}

// errorFrame 回给发送方的错误帧
func errorFrame(event, msg string) []byte {
	b, err := EncodeFrame(EventError, map[string]string{"event": event, "error": msg})
	if err != nil {
		return nil
	}
	return b
}
