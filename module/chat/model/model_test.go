package model

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDirectKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, DirectKeyFor("alice", "bob"), DirectKeyFor("bob", "alice"))
	assert.NotEqual(t, DirectKeyFor("alice", "bob"), DirectKeyFor("alice", "carol"))
}

func TestRetractableBoundary(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := &Message{CreatedAt: created}
	assert.True(t, m.Retractable(created))
	assert.True(t, m.Retractable(created.Add(RetractionWindow-time.Nanosecond)))
	assert.False(t, m.Retractable(created.Add(RetractionWindow)))
	assert.False(t, m.Retractable(created.Add(RetractionWindow+time.Second)))
}

func TestReadMarkersIdempotent(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReadMarkers("sender", t0)
	assert.True(t, r.Mark("u2", t0.Add(time.Minute)))
	assert.False(t, r.Mark("u2", t0.Add(time.Hour)))
	assert.Len(t, r, 2)
	assert.Equal(t, t0.Add(time.Minute), r["u2"])
}

func TestReadMarkersJSON(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := ReadMarkers{"zed": t0, "amy": t0, "bob": t0.Add(-time.Second)}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"user":"bob","readAt":"2025-12-31T23:59:59Z"},
		{"user":"amy","readAt":"2026-01-01T00:00:00Z"},
		{"user":"zed","readAt":"2026-01-01T00:00:00Z"}
	]`, string(b))

	var back ReadMarkers
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Has("amy"))
	assert.Len(t, back, 3)
}

func TestReadMarkersBSONEmbeddedDocument(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Message{ID: "1", ReadBy: NewReadMarkers("u1", t0), CreatedAt: t0}
	raw, err := bson.Marshal(m)
	require.NoError(t, err)

	v, err := bson.Raw(raw).LookupErr("read_by", "u1")
	require.NoError(t, err)
	assert.True(t, v.Time().Equal(t0))

	var back Message
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.True(t, back.ReadBy.Has("u1"))
}

func TestCloneIsDeep(t *testing.T) {
	title := "ops"
	c := &Conversation{Participants: []string{"a", "b"}, Title: &title}
	cp := c.Clone()
	cp.Participants[0] = "x"
	*cp.Title = "changed"
	assert.Equal(t, "a", c.Participants[0])
	assert.Equal(t, "ops", *c.Title)
}
