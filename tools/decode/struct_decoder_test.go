package decode

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	Username       string   `json:"username"`
	Count          int      `json:"count"`
	Tags           []string `json:"tags"`
}

func TestPayloadFromJSON(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"conversationId":"c1","userId":"u1","username":"Ann","count":3,"tags":["a","b"]}`), &raw))

	p, err := Payload[typingPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "c1", p.ConversationID)
	assert.Equal(t, "Ann", p.Username)
	assert.Equal(t, 3, p.Count)
	assert.Equal(t, []string{"a", "b"}, p.Tags)
}

func TestPayloadWeakTypes(t *testing.T) {
	p, err := Payload[typingPayload](map[string]any{"count": "7"})
	require.NoError(t, err)
	assert.Equal(t, 7, p.Count)

	_, err = Payload[typingPayload](map[string]any{"count": "7"}, Options{WeaklyTypedInput: false})
	assert.Error(t, err)
}

func TestID(t *testing.T) {
	id, err := ID("c9", "conversationId")
	require.NoError(t, err)
	assert.Equal(t, "c9", id)

	id, err = ID(map[string]any{"conversationId": "c10"}, "conversationId")
	require.NoError(t, err)
	assert.Equal(t, "c10", id)

	_, err = ID(nil, "conversationId")
	assert.Error(t, err)
	_, err = ID(42.0, "conversationId")
	assert.Error(t, err)
	_, err = ID(map[string]any{"conversationId": ""}, "conversationId")
	assert.Error(t, err)
}
