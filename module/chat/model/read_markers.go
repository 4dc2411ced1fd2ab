package model

import (
	"sort"
	"time"

	json "github.com/goccy/go-json"
)

// ReadMarkers is the set of users who fetched a message, keyed by user.
// Stored in BSON as an embedded document {<user>: readAt}.
type ReadMarkers map[string]time.Time

type ReadMarker struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

func NewReadMarkers(user string, at time.Time) ReadMarkers {
	return ReadMarkers{user: at}
}

// Mark adds a marker and reports whether it was new. Existing markers keep their time.
func (r ReadMarkers) Mark(user string, at time.Time) bool {
	if _, ok := r[user]; ok {
		return false
	}
	r[user] = at
	return true
}

func (r ReadMarkers) Has(user string) bool {
	_, ok := r[user]
	return ok
}

func (r ReadMarkers) Clone() ReadMarkers {
	out := make(ReadMarkers, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// List returns markers ordered by readAt, then user.
func (r ReadMarkers) List() []ReadMarker {
	out := make([]ReadMarker, 0, len(r))
	for u, at := range r {
		out = append(out, ReadMarker{User: u, ReadAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReadAt.Equal(out[j].ReadAt) {
			return out[i].ReadAt.Before(out[j].ReadAt)
		}
		return out[i].User < out[j].User
	})
	return out
}

func (r ReadMarkers) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.List())
}

func (r *ReadMarkers) UnmarshalJSON(b []byte) error {
	var list []ReadMarker
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	m := make(ReadMarkers, len(list))
	for _, it := range list {
		m.Mark(it.User, it.ReadAt)
	}
	*r = m
	return nil
}
