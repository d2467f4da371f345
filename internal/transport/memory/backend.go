// Package memory is an in-process transport backend.
//
// A Backend holds every channel in memory and hands out Clients bound to it.
// Events are delivered synchronously to the clients of every channel member,
// after the backend lock has been released.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ifuryst/lol"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/transport"
)

// Operation names a client call that a Hook can intercept.
type Operation string

const (
	OpConnect    Operation = "connect"
	OpDisconnect Operation = "disconnect"
	OpQuery      Operation = "query"
	OpWatch      Operation = "watch"
	OpSend       Operation = "send"
	OpMarkRead   Operation = "mark_read"
)

// Hook runs before every client operation. A non-nil error aborts the
// operation and is returned to the caller. Hooks may block.
type Hook func(ctx context.Context, op Operation, userID string) error

type Option func(*Backend)

// WithVerifier makes Connect validate session tokens.
func WithVerifier(v transport.TokenVerifier) Option {
	return func(b *Backend) { b.verify = v }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithHook installs a hook at construction time.
func WithHook(h Hook) Option {
	return func(b *Backend) { b.hook = h }
}

type Backend struct {
	logger *zap.Logger
	verify transport.TokenVerifier
	now    func() time.Time

	mu       sync.RWMutex
	hook     Hook
	channels map[string]*transport.ChannelState
	clients  map[*Client]struct{}
	online   map[string]int
}

// NewBackend creates an empty in-memory provider
func NewBackend(logger *zap.Logger, opts ...Option) *Backend {
	b := &Backend{
		logger:   logger.Named("transport.memory"),
		now:      time.Now,
		channels: make(map[string]*transport.ChannelState),
		clients:  make(map[*Client]struct{}),
		online:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetHook replaces the operation hook. Pass nil to remove it.
func (b *Backend) SetHook(h Hook) {
	b.mu.Lock()
	b.hook = h
	b.mu.Unlock()
}

func (b *Backend) runHook(ctx context.Context, op Operation, userID string) error {
	b.mu.RLock()
	h := b.hook
	b.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h(ctx, op, userID)
}

// CreateChannel creates a messaging channel. The creator is always a member.
// An empty id is replaced with a generated one.
func (b *Backend) CreateChannel(id string, creator transport.User, members ...transport.User) (transport.ChannelState, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if creator.ID == "" {
		return transport.ChannelState{}, fmt.Errorf("channel %s: creator id is required", id)
	}

	now := b.now()
	state := &transport.ChannelState{
		ID:        id,
		Type:      cnst.ChannelTypeMessaging,
		CreatedBy: &creator,
		Read:      make(map[string]transport.ReadState),
		CreatedAt: now,
	}
	seen := make(map[string]bool)
	for _, m := range append([]transport.User{creator}, members...) {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.Online = false
		state.Members = append(state.Members, m)
		state.Read[m.ID] = transport.ReadState{User: m, LastRead: now}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[id]; ok {
		return transport.ChannelState{}, fmt.Errorf("%w: %s", transport.ErrChannelExists, id)
	}
	b.channels[id] = state

	b.logger.Debug("channel created",
		zap.String("channel_id", id),
		zap.Int("members", len(state.Members)))
	return b.resolve(state), nil
}

// State returns a detached copy of a channel with presence resolved.
func (b *Backend) State(channelID string) (transport.ChannelState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.channels[channelID]
	if !ok {
		return transport.ChannelState{}, false
	}
	return b.resolve(state), true
}

// Online reports whether userID has at least one connected client.
func (b *Backend) Online(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.online[userID] > 0
}

// resolve clones state and fills in member presence. Caller holds b.mu.
func (b *Backend) resolve(state *transport.ChannelState) transport.ChannelState {
	out := state.Clone()
	for i := range out.Members {
		out.Members[i].Online = b.online[out.Members[i].ID] > 0
	}
	if out.CreatedBy != nil {
		out.CreatedBy.Online = b.online[out.CreatedBy.ID] > 0
	}
	return out
}

func (b *Backend) states() []transport.ChannelState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]transport.ChannelState, 0, len(b.channels))
	for _, s := range b.channels {
		out = append(out, b.resolve(s))
	}
	return out
}

// Post appends msg to a channel on behalf of msg.User and notifies members.
// The sender's read position advances to the new message.
func (b *Backend) Post(channelID string, msg transport.Message) (transport.Message, error) {
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 && msg.Type != transport.MessageSystem {
		return transport.Message{}, transport.ErrEmptyMessage
	}

	b.mu.Lock()
	state, ok := b.channels[channelID]
	if !ok {
		b.mu.Unlock()
		return transport.Message{}, transport.ErrChannelNotFound
	}
	sender, isMember := state.Member(msg.User.ID)
	if !isMember && msg.Type != transport.MessageSystem {
		b.mu.Unlock()
		return transport.Message{}, transport.ErrNotMember
	}
	if isMember {
		msg.User = sender
	}

	now := b.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == transport.MessageUntyped {
		msg.Type = transport.MessageRegular
		if msg.ParentID != "" {
			msg.Type = transport.MessageReply
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.User.Online = b.online[msg.User.ID] > 0

	state.Messages = append(state.Messages, msg)
	if msg.CreatedAt.After(state.LastMessageAt) {
		state.LastMessageAt = msg.CreatedAt
	}
	for _, m := range state.Members {
		rs, ok := state.Read[m.ID]
		if !ok {
			continue
		}
		if m.ID == msg.User.ID {
			rs.LastRead = msg.CreatedAt
			rs.UnreadMessages = 0
		} else {
			rs.UnreadMessages++
		}
		state.Read[m.ID] = rs
	}
	recipients := b.recipients(state)
	b.mu.Unlock()

	b.deliver(recipients, transport.Event{
		Type:      transport.EventMessageNew,
		ChannelID: channelID,
		Message:   &msg,
		CreatedAt: now,
	})
	return msg, nil
}

// UpdateMessage replaces the text of an existing message.
func (b *Backend) UpdateMessage(channelID, messageID, text string) (transport.Message, error) {
	return b.mutate(channelID, messageID, transport.EventMessageUpdated, func(m *transport.Message, now time.Time) {
		m.Text = text
		m.UpdatedAt = now
	})
}

// DeleteMessage soft-deletes a message. It stays in history with a deletion marker.
func (b *Backend) DeleteMessage(channelID, messageID string) (transport.Message, error) {
	return b.mutate(channelID, messageID, transport.EventMessageDeleted, func(m *transport.Message, now time.Time) {
		m.Type = transport.MessageDeleted
		m.DeletedAt = &now
		m.UpdatedAt = now
	})
}

func (b *Backend) mutate(channelID, messageID string, evType transport.EventType, fn func(*transport.Message, time.Time)) (transport.Message, error) {
	b.mu.Lock()
	state, ok := b.channels[channelID]
	if !ok {
		b.mu.Unlock()
		return transport.Message{}, transport.ErrChannelNotFound
	}
	idx := -1
	for i := range state.Messages {
		if state.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return transport.Message{}, transport.ErrMessageNotFound
	}
	now := b.now()
	fn(&state.Messages[idx], now)
	msg := state.Messages[idx]
	recipients := b.recipients(state)
	b.mu.Unlock()

	b.deliver(recipients, transport.Event{
		Type:      evType,
		ChannelID: channelID,
		Message:   &msg,
		CreatedAt: now,
	})
	return msg, nil
}

// MarkRead advances userID's read position in a channel to now.
func (b *Backend) MarkRead(channelID, userID string) error {
	b.mu.Lock()
	state, ok := b.channels[channelID]
	if !ok {
		b.mu.Unlock()
		return transport.ErrChannelNotFound
	}
	member, ok := state.Member(userID)
	if !ok {
		b.mu.Unlock()
		return transport.ErrNotMember
	}
	now := b.now()
	state.Read[userID] = transport.ReadState{User: member, LastRead: now}
	recipients := b.recipients(state)
	b.mu.Unlock()

	b.deliver(recipients, transport.Event{
		Type:      transport.EventMessageRead,
		ChannelID: channelID,
		User:      &member,
		CreatedAt: now,
	})
	return nil
}

// recipients returns the connected clients of every channel member. Caller holds b.mu.
func (b *Backend) recipients(state *transport.ChannelState) []*Client {
	ids := make([]string, 0, len(state.Members))
	for _, m := range state.Members {
		ids = append(ids, m.ID)
	}
	return b.clientsFor(ids)
}

// clientsFor is the connected clients of the given users. Caller holds b.mu.
func (b *Backend) clientsFor(userIDs []string) []*Client {
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range lol.UniqSlice(userIDs) {
		wanted[id] = struct{}{}
	}
	out := make([]*Client, 0)
	for c := range b.clients {
		if _, ok := wanted[c.userID()]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) deliver(clients []*Client, ev transport.Event) {
	for _, c := range clients {
		c.deliver(ev)
	}
}

func (b *Backend) attach(c *Client, user transport.User) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.online[user.ID]++
	first := b.online[user.ID] == 1
	peers := b.peersOf(user.ID)
	b.mu.Unlock()

	if first {
		user.Online = true
		b.deliver(peers, transport.Event{Type: transport.EventPresenceChanged, User: &user, CreatedAt: b.now()})
	}
}

func (b *Backend) detach(c *Client, user transport.User) {
	b.mu.Lock()
	if _, ok := b.clients[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c)
	b.online[user.ID]--
	last := b.online[user.ID] <= 0
	if last {
		delete(b.online, user.ID)
	}
	peers := b.peersOf(user.ID)
	b.mu.Unlock()

	if last {
		user.Online = false
		b.deliver(peers, transport.Event{Type: transport.EventPresenceChanged, User: &user, CreatedAt: b.now()})
	}
}

// peersOf returns the clients sharing at least one channel with userID. Caller holds b.mu.
func (b *Backend) peersOf(userID string) []*Client {
	var ids []string
	for _, s := range b.channels {
		if _, ok := s.Member(userID); !ok {
			continue
		}
		for _, m := range s.Members {
			if m.ID != userID {
				ids = append(ids, m.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return b.clientsFor(ids)
}
