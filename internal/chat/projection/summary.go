// Package projection derives display-ready views from provider channel state.
// Everything here is pure: the same state, identity and clock always produce
// the same output.
package projection

import (
	"time"

	"github.com/amoylab/chatline/internal/transport"
)

// Summary is the list-row projection of one conversation.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	Online       bool      `json:"online"`
	OtherUserID  string    `json:"other_user_id,omitempty"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity"`
	TimeLabel    string    `json:"time_label"`
	Unread       bool      `json:"unread"`
}

// MessageView is the display form of one message.
type MessageView struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	UserName    string                 `json:"user_name,omitempty"`
	UserImage   string                 `json:"user_image,omitempty"`
	Text        string                 `json:"text"`
	Attachments []transport.Attachment `json:"attachments,omitempty"`
	Type        transport.MessageType  `json:"type,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Mine        bool                   `json:"mine"`
}

// OtherParticipant returns the first member that is not me, falling back to
// the channel creator when no such member is known.
func OtherParticipant(state transport.ChannelState, me string) (transport.User, bool) {
	for _, m := range state.Members {
		if m.ID != me {
			return m, true
		}
	}
	if state.CreatedBy != nil {
		return *state.CreatedBy, true
	}
	return transport.User{}, false
}

// Visible returns the messages that count for previews and unread state:
// everything except deleted and system messages, in history order.
func Visible(messages []transport.Message) []transport.Message {
	out := make([]transport.Message, 0, len(messages))
	for _, m := range messages {
		if m.Deleted() || m.Type == transport.MessageSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Preview returns the preview line for the last visible message.
func Preview(last *transport.Message, labels Labels) string {
	if labels == nil {
		labels = DefaultLabels
	}
	switch {
	case last == nil:
		return labels.Label(LabelNoMessages, nil)
	case last.Text == "" && len(last.Attachments) > 0:
		return labels.Label(LabelAttachment, nil)
	default:
		return last.Text
	}
}

// Unread reports whether last is newer than me's read position. A member
// without a read position has never read the channel.
func Unread(state transport.ChannelState, last *transport.Message, me string) bool {
	if last == nil {
		return false
	}
	rs, ok := state.Read[me]
	if !ok || rs.LastRead.IsZero() {
		return true
	}
	return last.CreatedAt.After(rs.LastRead)
}

// Summarize projects a channel into its list row as seen by me.
func Summarize(state transport.ChannelState, me string, now time.Time, labels Labels) Summary {
	s := Summary{ID: state.ID, Name: state.Name}
	if other, ok := OtherParticipant(state, me); ok {
		s.OtherUserID = other.ID
		s.Image = other.Image
		s.Online = other.Online
		if other.Name != "" {
			s.Name = other.Name
		} else if s.Name == "" {
			s.Name = other.ID
		}
	}
	if s.Name == "" {
		s.Name = state.ID
	}

	visible := Visible(state.Messages)
	var last *transport.Message
	if len(visible) > 0 {
		last = &visible[len(visible)-1]
	}

	s.Preview = Preview(last, labels)
	s.Unread = Unread(state, last, me)

	switch {
	case last != nil:
		s.LastActivity = last.CreatedAt
	case !state.LastMessageAt.IsZero():
		s.LastActivity = state.LastMessageAt
	default:
		s.LastActivity = state.CreatedAt
	}
	s.TimeLabel = RelativeTime(s.LastActivity, now, labels)
	return s
}

// displayable reports whether a message belongs in the conversation view.
func displayable(m transport.Message) bool {
	if m.Deleted() {
		return false
	}
	switch m.Type {
	case transport.MessageRegular, transport.MessageReply, transport.MessageRead, transport.MessageUntyped:
		return true
	}
	return false
}

// Messages projects a channel's history into display order, newest first.
func Messages(state transport.ChannelState, me string) []MessageView {
	out := make([]MessageView, 0, len(state.Messages))
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if !displayable(m) {
			continue
		}
		out = append(out, MessageView{
			ID:          m.ID,
			UserID:      m.User.ID,
			UserName:    m.User.Name,
			UserImage:   m.User.Image,
			Text:        m.Text,
			Attachments: append([]transport.Attachment(nil), m.Attachments...),
			Type:        m.Type,
			ParentID:    m.ParentID,
			CreatedAt:   m.CreatedAt,
			Mine:        m.User.ID == me,
		})
	}
	return out
}
