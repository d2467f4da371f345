package transport

import "time"

// EventType names a provider mutation.
type EventType string

const (
	EventMessageNew      EventType = "message.new"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventMessageRead     EventType = "message.read"
	EventPresenceChanged EventType = "user.presence.changed"
)

// MessageEvents are the mutations that change a channel's message history.
var MessageEvents = []EventType{EventMessageNew, EventMessageUpdated, EventMessageDeleted}

// MessageType tags a message.
type MessageType string

const (
	MessageUntyped   MessageType = ""
	MessageRegular   MessageType = "regular"
	MessageSystem    MessageType = "system"
	MessageReply     MessageType = "reply"
	MessageRead      MessageType = "read"
	MessageDeleted   MessageType = "deleted"
	MessageError     MessageType = "error"
	MessageEphemeral MessageType = "ephemeral"
)

// Sort fields understood by QueryChannels.
const (
	SortLastMessageAt = "last_message_at"
	SortCreatedAt     = "created_at"
)

// User is a participant identity as seen by the provider.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	Online bool   `json:"online,omitempty"`
}

// Attachment is opaque to chatline; only its presence matters.
type Attachment struct {
	Type     string `json:"type,omitempty"`
	AssetURL string `json:"asset_url,omitempty"`
	Title    string `json:"title,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	User        User         `json:"user"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Type        MessageType  `json:"type,omitempty"`
	ParentID    string       `json:"parent_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// Deleted reports whether the message carries a deletion marker.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil || m.Type == MessageDeleted
}

// ReadState is one member's read position in a channel.
type ReadState struct {
	User           User      `json:"user"`
	LastRead       time.Time `json:"last_read"`
	UnreadMessages int       `json:"unread_messages"`
}

// ChannelState is a snapshot of a channel.
type ChannelState struct {
	ID            string               `json:"id"`
	Type          string               `json:"type"`
	Name          string               `json:"name,omitempty"`
	CreatedBy     *User                `json:"created_by,omitempty"`
	Members       []User               `json:"members"`
	Messages      []Message            `json:"messages"`
	Read          map[string]ReadState `json:"read"`
	CreatedAt     time.Time            `json:"created_at"`
	LastMessageAt time.Time            `json:"last_message_at"`
}

// Member returns the member with the given id.
func (s ChannelState) Member(userID string) (User, bool) {
	for _, m := range s.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return User{}, false
}

// Clone returns a deep copy of the state.
func (s ChannelState) Clone() ChannelState {
	out := s
	if s.CreatedBy != nil {
		u := *s.CreatedBy
		out.CreatedBy = &u
	}
	out.Members = append([]User(nil), s.Members...)
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	if s.Read != nil {
		out.Read = make(map[string]ReadState, len(s.Read))
		for k, v := range s.Read {
			out.Read[k] = v
		}
	}
	return out
}

func (m Message) clone() Message {
	out := m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Event is a single provider mutation.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects channels in QueryChannels.
type Filter struct {
	Type    string   // channel type, empty matches all
	Members []string // every listed user must be a member
}

// SortOption orders QueryChannels results. Direction -1 is descending.
type SortOption struct {
	Field     string
	Direction int
}

type QueryOptions struct {
	Watch        bool // mark returned channels watched
	State        bool // load channel state with the result
	Limit        int
	MessageLimit int
}

type WatchOptions struct {
	MessageLimit int
}

type MessageInput struct {
	Text        string
	Attachments []Attachment
	ParentID    string
}
