package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/module/chat/model"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(HubConfig{Shards: 4, Workers: 2, QueueSize: 64})
	t.Cleanup(h.Close)
	return h
}

func recv(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw := <-c.Outbound():
		f, err := DecodeFrame(raw)
		require.NoError(t, err)
		return *f
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s got nothing", c.ConnID)
		return Frame{}
	}
}

func silent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Outbound():
		t.Fatalf("client %s got unexpected frame %s", c.ConnID, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesRoomMembersOnly(t *testing.T) {
	h := newTestHub(t)
	a, b, out := NewClient("a", "alice", 8), NewClient("b", "bob", 8), NewClient("c", "carol", 8)
	room := ConversationRoom("c1")
	require.NoError(t, h.Join(room, a))
	require.NoError(t, h.Join(room, b))
	require.NoError(t, h.Join(ConversationRoom("c2"), out))

	require.NoError(t, h.Publish(context.Background(), room, EventReceiveMessage, map[string]string{"content": "hi"}))

	for _, c := range []*Client{a, b} {
		f := recv(t, c)
		assert.Equal(t, EventReceiveMessage, f.Event)
		assert.JSONEq(t, `{"content":"hi"}`, string(f.Data))
	}
	silent(t, out)
}

func TestPublishToOthersSkipsOrigin(t *testing.T) {
	h := newTestHub(t)
	a, b := NewClient("a", "alice", 8), NewClient("b", "bob", 8)
	room := ConversationRoom("c1")
	require.NoError(t, h.Join(room, a))
	require.NoError(t, h.Join(room, b))

	require.NoError(t, h.PublishToOthers(context.Background(), room, a, EventUserTyping, typingOut{UserID: "alice"}))
	assert.Equal(t, EventUserTyping, recv(t, b).Event)
	silent(t, a)
}

func TestEmptyRoomsAreRemoved(t *testing.T) {
	h := newTestHub(t)
	a := NewClient("a", "alice", 8)
	require.NoError(t, h.Join(ConversationRoom("c1"), a))
	require.NoError(t, h.Join(ConversationRoom("c1"), a))
	require.NoError(t, h.Join(MissionRoom("m1"), a))
	assert.Equal(t, 1, h.Members(ConversationRoom("c1")))
	assert.Equal(t, 2, h.Rooms())

	h.Leave(ConversationRoom("c1"), a)
	assert.Equal(t, 0, h.Members(ConversationRoom("c1")))
	assert.Equal(t, 1, h.Rooms())
	assert.False(t, a.InRoom(ConversationRoom("c1")))

	h.Drop(a)
	assert.Equal(t, 0, h.Rooms())
	assert.Empty(t, a.Rooms())
}

func TestPublishToEmptyRoomIsSilent(t *testing.T) {
	h := newTestHub(t)
	assert.NoError(t, h.Publish(context.Background(), ConversationRoom("nobody"), EventReceiveMessage, nil))
	assert.Error(t, h.Publish(context.Background(), "", EventReceiveMessage, nil))
}

func TestSlowClientDropsOnlyItsOwnFrames(t *testing.T) {
	h := newTestHub(t)
	slow, fast := NewClient("s", "slow", 1), NewClient("f", "fast", 16)
	room := ConversationRoom("c1")
	require.NoError(t, h.Join(room, slow))
	require.NoError(t, h.Join(room, fast))

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(context.Background(), room, EventReceiveMessage, map[string]int{"n": i}))
	}
	for i := 0; i < 5; i++ {
		f := recv(t, fast)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(f.Data), "per-room order kept")
	}
	require.Eventually(t, func() bool { return slow.Dropped() == 4 }, time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"n":0}`, string(recv(t, slow).Data))
}

func TestConcurrentJoinPublishLeave(t *testing.T) {
	h := newTestHub(t)
	room := ConversationRoom("busy")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprint(i), "u", 64)
			for j := 0; j < 50; j++ {
				_ = h.Join(room, c)
				_ = h.Publish(context.Background(), room, EventUserTyping, nil)
				h.Leave(room, c)
			}
			h.Drop(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, h.Members(room))
	assert.Equal(t, 0, h.Rooms())
}

func TestClosedClientRejectsFrames(t *testing.T) {
	c := NewClient("a", "alice", 4)
	assert.True(t, c.Enqueue([]byte(`{}`)))
	c.Close()
	c.Close()
	assert.False(t, c.Enqueue([]byte(`{}`)))
}

func TestMissionUpdated(t *testing.T) {
	h := newTestHub(t)
	a := NewClient("a", "alice", 8)
	require.NoError(t, h.Join(MissionRoom("m1"), a))

	body := `{"missionId":"m1","status":"in_progress"}`
	require.NoError(t, h.MissionUpdated(context.Background(), "m1", []byte(body)))
	f := recv(t, a)
	assert.Equal(t, EventMissionUpdated, f.Event)
	assert.JSONEq(t, body, string(f.Data), "update goes out as is")

	assert.Error(t, h.MissionUpdated(context.Background(), "", []byte(`{}`)))
	assert.Error(t, h.MissionUpdated(context.Background(), "m1", nil))
	assert.Error(t, h.MissionUpdated(context.Background(), "m1", []byte(`{broken`)))
}

func TestHubNotifier(t *testing.T) {
	h := newTestHub(t)
	a := NewClient("a", "alice", 8)
	require.NoError(t, h.Join(ConversationRoom("c1"), a))
	n := NewHubNotifier(h)

	m := &model.Message{ID: "0000000000000000001", ConversationID: "c1", Sender: "bob", Content: "yo"}
	n.MessageCreated(context.Background(), &model.Conversation{ID: "c1"}, m)
	f := recv(t, a)
	assert.Equal(t, EventReceiveMessage, f.Event)
	var got model.Message
	require.NoError(t, json.Unmarshal(f.Data, &got))
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "yo", got.Content)

	n.MessageDeleted(context.Background(), m)
	f = recv(t, a)
	assert.Equal(t, EventMessageDeleted, f.Event)
	assert.JSONEq(t, `{"_id":"0000000000000000001","conversationId":"c1"}`, string(f.Data))
}
