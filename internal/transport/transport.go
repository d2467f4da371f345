// Package transport defines the boundary to the real-time messaging provider.
//
// The provider owns channels, their membership and their message history. The
// rest of chatline only reaches that state through the narrow [Client] and
// [Channel] interfaces: connect/disconnect, channel queries, watch, send,
// mark-read and event subscription. [Channel.State] always returns a detached
// copy, so callers re-read it after every event instead of sharing mutable
// provider objects.
//
// Two backends implement the interfaces: package memory (in-process, used by
// tests and local sandboxes) and package redistransport (Redis documents plus a
// pub/sub event stream, shared between processes).
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by operations that require a connected client
	ErrNotConnected = errors.New("transport: client is not connected")
	// ErrAlreadyConnected is returned when Connect is called on a connected client
	ErrAlreadyConnected = errors.New("transport: client is already connected")
	// ErrUnauthorized is returned when the session token is rejected
	ErrUnauthorized = errors.New("transport: token rejected")
	// ErrChannelNotFound is returned when a channel does not exist
	ErrChannelNotFound = errors.New("transport: channel not found")
	// ErrChannelExists is returned when creating a channel whose id is taken
	ErrChannelExists = errors.New("transport: channel already exists")
	// ErrMessageNotFound is returned when a message does not exist in its channel
	ErrMessageNotFound = errors.New("transport: message not found")
	// ErrNotMember is returned when the connected user is not a member of the channel
	ErrNotMember = errors.New("transport: user is not a channel member")
	// ErrEmptyMessage is returned when a message has neither text nor attachments
	ErrEmptyMessage = errors.New("transport: message is empty")
)

// Handler receives events from a subscription.
type Handler func(Event)

// Unsubscribe stops event delivery for one registration. Calling it more than
// once is a no-op.
type Unsubscribe func()

// TokenVerifier validates a session token and returns the user id it was issued for.
type TokenVerifier func(token string) (userID string, err error)

// Admin writes to the provider directly, outside any client session. It is
// how channels come into existence and how other participants are simulated.
type Admin interface {
	CreateChannel(ctx context.Context, id string, creator User, members ...User) (ChannelState, error)
	Post(ctx context.Context, channelID string, msg Message) (Message, error)
	MarkRead(ctx context.Context, channelID, userID string) error
}

// Client is a handle representing one connected identity.
type Client interface {
	// Connect binds the client to user, authenticated by token.
	Connect(ctx context.Context, user User, token string) error

	// Disconnect releases the connection, all registrations and tracked
	// channel handles. Idempotent.
	Disconnect(ctx context.Context) error

	// QueryChannels returns the channels matching filter, ordered by sort.
	QueryChannels(ctx context.Context, filter Filter, sort []SortOption, opts QueryOptions) ([]Channel, error)

	// Channel returns an already-tracked channel handle.
	Channel(id string) (Channel, bool)

	// On registers a session-wide handler. With no types, every event is delivered.
	On(handler Handler, types ...EventType) Unsubscribe
}

// Channel is a live handle to one conversation.
type Channel interface {
	ID() string

	// State returns a detached copy of the channel's current state.
	State() ChannelState

	// Watch starts live tracking of the channel for the connected user.
	Watch(ctx context.Context, opts WatchOptions) error

	// SendMessage submits a new message from the connected user.
	SendMessage(ctx context.Context, input MessageInput) (Message, error)

	// MarkRead advances the connected user's read state to now.
	MarkRead(ctx context.Context) error

	// On registers a handler scoped to this channel. Events are only
	// delivered while the channel is watched.
	On(handler Handler, types ...EventType) Unsubscribe
}
