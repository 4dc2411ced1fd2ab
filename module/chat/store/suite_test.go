package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/module/chat/model"
	"MissionChat/tools/ids"
)

// The suites below run against every adapter; Mongo and Postgres variants
// skip unless a test database is configured.

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newConv(typ model.ConversationType, participants ...string) *model.Conversation {
	c := &model.Conversation{
		ID:           ids.GenerateString(),
		Type:         typ,
		Participants: participants,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	if typ == model.ConversationDirect {
		c.DirectKey = model.DirectKeyFor(participants[0], participants[1])
	}
	return c
}

func runConversationSuite(t *testing.T, s ConversationStore) {
	ctx := context.Background()

	t.Run("direct find or create converges under contention", func(t *testing.T) {
		a, b := "a-"+ids.GenerateString(), "b-"+ids.GenerateString()
		const racers = 16
		var wg sync.WaitGroup
		got := make([]string, racers)
		created := make([]bool, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := newConv(model.ConversationDirect, a, b)
				if i%2 == 1 {
					c = newConv(model.ConversationDirect, b, a)
				}
				out, ok, err := s.FindOrCreateDirect(ctx, c)
				if !assert.NoError(t, err) {
					return
				}
				got[i] = out.ID
				created[i] = ok
			}(i)
		}
		wg.Wait()

		n := 0
		for i := range got {
			assert.Equal(t, got[0], got[i])
			if created[i] {
				n++
			}
		}
		assert.Equal(t, 1, n)

		list, err := s.ListByParticipant(ctx, a)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		assert.ElementsMatch(t, []string{a, b}, list[0].Participants)
	})

	t.Run("membership writes classify failures", func(t *testing.T) {
		g := newConv(model.ConversationGroup, "g1", "g2")
		require.NoError(t, s.Create(ctx, g))

		_, err := s.AddParticipant(ctx, "missing-"+g.ID, "g1", "g3", t0)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.AddParticipant(ctx, g.ID, "outsider", "g3", t0)
		assert.ErrorIs(t, err, ErrNotParticipant)
		_, err = s.AddParticipant(ctx, g.ID, "g1", "g2", t0)
		assert.ErrorIs(t, err, ErrConflict)

		out, err := s.AddParticipant(ctx, g.ID, "g1", "g3", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"g1", "g2", "g3"}, out.Participants)
		assert.True(t, out.UpdatedAt.Equal(t0.Add(time.Minute)))

		d := newConv(model.ConversationDirect, "d1-"+g.ID, "d2-"+g.ID)
		_, _, err = s.FindOrCreateDirect(ctx, d)
		require.NoError(t, err)
		_, err = s.AddParticipant(ctx, d.ID, d.Participants[0], "d3", t0)
		assert.ErrorIs(t, err, ErrDirectImmutable)
		_, _, err = s.RemoveParticipant(ctx, d.ID, d.Participants[0], t0)
		assert.ErrorIs(t, err, ErrDirectImmutable)
	})

	t.Run("leaving deletes only when empty", func(t *testing.T) {
		g := newConv(model.ConversationGroup, "l1", "l2")
		require.NoError(t, s.Create(ctx, g))

		rest, deleted, err := s.RemoveParticipant(ctx, g.ID, "l1", t0)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Equal(t, []string{"l2"}, rest.Participants)

		_, _, err = s.RemoveParticipant(ctx, g.ID, "l1", t0)
		assert.ErrorIs(t, err, ErrNotParticipant)

		_, deleted, err = s.RemoveParticipant(ctx, g.ID, "l2", t0)
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = s.Get(ctx, g.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("last message never moves backwards", func(t *testing.T) {
		g := newConv(model.ConversationGroup, "t1")
		require.NoError(t, s.Create(ctx, g))

		require.NoError(t, s.TouchLastMessage(ctx, g.ID, model.LastMessage{Content: "new", Sender: "t1", SentAt: t0.Add(2 * time.Second)}))
		require.NoError(t, s.TouchLastMessage(ctx, g.ID, model.LastMessage{Content: "old", Sender: "t1", SentAt: t0.Add(time.Second)}))

		got, err := s.Get(ctx, g.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessage)
		assert.Equal(t, "new", got.LastMessage.Content)
		assert.True(t, got.UpdatedAt.Equal(t0.Add(2*time.Second)))

		// a conversation deleted under the append is not an error
		assert.NoError(t, s.TouchLastMessage(ctx, "gone-"+g.ID, model.LastMessage{SentAt: t0}))
	})

	t.Run("list is most recently updated first", func(t *testing.T) {
		u := "lister-" + ids.GenerateString()
		older := newConv(model.ConversationGroup, u)
		newer := newConv(model.ConversationGroup, u)
		require.NoError(t, s.Create(ctx, older))
		require.NoError(t, s.Create(ctx, newer))
		require.NoError(t, s.TouchLastMessage(ctx, older.ID, model.LastMessage{Content: "x", SentAt: t0.Add(time.Hour)}))

		list, err := s.ListByParticipant(ctx, u)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, older.ID, list[0].ID)
		assert.Equal(t, newer.ID, list[1].ID)
	})
}

func runMessageSuite(t *testing.T, s MessageStore) {
	ctx := context.Background()
	conv := "conv-" + ids.GenerateString()

	var all []*model.Message
	for i := 0; i < 7; i++ {
		m := &model.Message{
			ID:             ids.GenerateString(),
			ConversationID: conv,
			Sender:         "s",
			Content:        fmt.Sprintf("m%d", i),
			ReadBy:         model.NewReadMarkers("s", t0),
			// two messages share a timestamp; the id breaks the tie
			CreatedAt: t0.Add(time.Duration(i/2*2) * time.Second),
		}
		require.NoError(t, s.Insert(ctx, m))
		all = append(all, m)
	}

	n, err := s.Count(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	first, err := s.ListNewestFirst(ctx, conv, 0, 3)
	require.NoError(t, err)
	second, err := s.ListNewestFirst(ctx, conv, 3, 3)
	require.NoError(t, err)
	third, err := s.ListNewestFirst(ctx, conv, 6, 3)
	require.NoError(t, err)

	contents := func(ms []*model.Message) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.Content)
		}
		return out
	}
	assert.Equal(t, []string{"m6", "m5", "m4"}, contents(first))
	assert.Equal(t, []string{"m3", "m2", "m1"}, contents(second))
	assert.Equal(t, []string{"m0"}, contents(third))

	target := []string{all[0].ID, all[1].ID}
	changed, err := s.MarkRead(ctx, target, "reader", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	changed, err = s.MarkRead(ctx, target, "reader", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)

	got, err := s.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 2)
	assert.True(t, got.ReadBy["reader"].Equal(t0.Add(time.Minute)))

	require.NoError(t, s.Delete(ctx, all[0].ID))
	assert.ErrorIs(t, s.Delete(ctx, all[0].ID), ErrNotFound)
	_, err = s.Get(ctx, all[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
