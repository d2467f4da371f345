package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectStates(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alice := User{ID: "alice"}
	bob := User{ID: "bob"}
	carol := User{ID: "carol"}

	states := []ChannelState{
		{ID: "c1", Type: "messaging", Members: []User{alice, bob}, LastMessageAt: base.Add(time.Minute)},
		{ID: "c2", Type: "messaging", Members: []User{alice, carol}, LastMessageAt: base.Add(time.Hour)},
		{ID: "c3", Type: "messaging", Members: []User{bob, carol}, LastMessageAt: base.Add(2 * time.Hour)},
		{ID: "c4", Type: "team", Members: []User{alice}, LastMessageAt: base.Add(3 * time.Hour)},
		{ID: "c5", Type: "messaging", Members: []User{alice}, CreatedAt: base.Add(30 * time.Minute)},
	}

	got := SelectStates(states, Filter{Type: "messaging", Members: []string{"alice"}},
		[]SortOption{{Field: SortLastMessageAt, Direction: -1}}, 0)

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"c2", "c5", "c1"}, ids)

	limited := SelectStates(states, Filter{Members: []string{"alice"}},
		[]SortOption{{Field: SortLastMessageAt, Direction: -1}}, 2)
	assert.Len(t, limited, 2)
	assert.Equal(t, "c4", limited[0].ID)
}

func TestChannelState_CloneIsDetached(t *testing.T) {
	deleted := time.Now()
	s := ChannelState{
		ID:        "c1",
		CreatedBy: &User{ID: "alice"},
		Members:   []User{{ID: "alice"}},
		Messages:  []Message{{ID: "m1", DeletedAt: &deleted, Attachments: []Attachment{{Type: "image"}}}},
		Read:      map[string]ReadState{"alice": {LastRead: deleted}},
	}
	c := s.Clone()
	c.CreatedBy.ID = "mallory"
	c.Members[0].Online = true
	c.Messages[0].Attachments[0].Type = "file"
	*c.Messages[0].DeletedAt = time.Time{}
	c.Read["bob"] = ReadState{}

	assert.Equal(t, "alice", s.CreatedBy.ID)
	assert.False(t, s.Members[0].Online)
	assert.Equal(t, "image", s.Messages[0].Attachments[0].Type)
	assert.Equal(t, deleted, *s.Messages[0].DeletedAt)
	assert.Len(t, s.Read, 1)
}

func TestTrimMessages(t *testing.T) {
	s := ChannelState{Messages: []Message{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	assert.Equal(t, []Message{{ID: "2"}, {ID: "3"}}, TrimMessages(s, 2).Messages)
	assert.Len(t, TrimMessages(s, 0).Messages, 3)
}

func TestMessage_Deleted(t *testing.T) {
	now := time.Now()
	assert.True(t, Message{DeletedAt: &now}.Deleted())
	assert.True(t, Message{Type: MessageDeleted}.Deleted())
	assert.False(t, Message{Type: MessageRegular}.Deleted())
}
