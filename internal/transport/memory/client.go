package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/transport"
)

var (
	_ transport.Client  = (*Client)(nil)
	_ transport.Channel = (*Channel)(nil)
)

// Client is one connection to a Backend.
type Client struct {
	backend   *Backend
	logger    *zap.Logger
	listeners *transport.Listeners

	mu      sync.RWMutex
	user    *transport.User
	handles map[string]*Channel
}

// NewClient returns a disconnected client bound to the backend
func (b *Backend) NewClient() *Client {
	return &Client{
		backend:   b,
		logger:    b.logger.Named("client"),
		listeners: transport.NewListeners(),
		handles:   make(map[string]*Channel),
	}
}

func (c *Client) userID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

func (c *Client) current() (transport.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return transport.User{}, transport.ErrNotConnected
	}
	return *c.user, nil
}

func (c *Client) Connect(ctx context.Context, user transport.User, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.ID == "" {
		return fmt.Errorf("%w: empty user id", transport.ErrUnauthorized)
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", transport.ErrUnauthorized)
	}
	if err := c.backend.runHook(ctx, OpConnect, user.ID); err != nil {
		return err
	}
	if c.backend.verify != nil {
		subject, err := c.backend.verify(token)
		if err != nil {
			return fmt.Errorf("%w: %v", transport.ErrUnauthorized, err)
		}
		if subject != user.ID {
			return fmt.Errorf("%w: token issued for %q", transport.ErrUnauthorized, subject)
		}
	}

	c.mu.Lock()
	if c.user != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	u := user
	u.Online = true
	c.user = &u
	c.mu.Unlock()

	c.backend.attach(c, u)
	c.logger.Debug("client connected", zap.String("user_id", u.ID))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return nil
	}
	user := *c.user
	c.user = nil
	handles := c.handles
	c.handles = make(map[string]*Channel)
	c.mu.Unlock()

	c.listeners.Reset()
	for _, h := range handles {
		h.release()
	}
	c.backend.detach(c, user)
	c.logger.Debug("client disconnected", zap.String("user_id", user.ID))

	if err := c.backend.runHook(ctx, OpDisconnect, user.ID); err != nil {
		return err
	}
	return nil
}

func (c *Client) QueryChannels(ctx context.Context, filter transport.Filter, sort []transport.SortOption, opts transport.QueryOptions) ([]transport.Channel, error) {
	user, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := c.backend.runHook(ctx, OpQuery, user.ID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	states := transport.SelectStates(c.backend.states(), filter, sort, opts.Limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != user.ID {
		return nil, transport.ErrNotConnected
	}
	out := make([]transport.Channel, 0, len(states))
	for _, s := range states {
		h := c.handleLocked(s.ID)
		if opts.MessageLimit > 0 {
			h.setMessageLimit(opts.MessageLimit)
		}
		if opts.Watch {
			h.setWatched(true)
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) Channel(id string) (transport.Channel, bool) {
	if _, ok := c.backend.State(id); !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil, false
	}
	return c.handleLocked(id), true
}

func (c *Client) On(handler transport.Handler, types ...transport.EventType) transport.Unsubscribe {
	return c.listeners.Add(handler, types...)
}

// handleLocked returns the tracked handle for id, creating it. Caller holds c.mu.
func (c *Client) handleLocked(id string) *Channel {
	h, ok := c.handles[id]
	if !ok {
		h = &Channel{client: c, id: id, listeners: transport.NewListeners()}
		c.handles[id] = h
	}
	return h
}

func (c *Client) deliver(ev transport.Event) {
	c.mu.RLock()
	if c.user == nil {
		c.mu.RUnlock()
		return
	}
	var targets []*Channel
	if ev.ChannelID != "" {
		if h, ok := c.handles[ev.ChannelID]; ok {
			targets = append(targets, h)
		}
	} else if ev.User != nil {
		for _, h := range c.handles {
			targets = append(targets, h)
		}
	}
	c.mu.RUnlock()

	c.listeners.Dispatch(ev)
	for _, h := range targets {
		if ev.ChannelID == "" {
			if _, ok := h.State().Member(ev.User.ID); !ok {
				continue
			}
		}
		h.deliver(ev)
	}
}

// Channel is a client's handle on one backend channel.
type Channel struct {
	client    *Client
	id        string
	listeners *transport.Listeners

	mu           sync.RWMutex
	watched      bool
	messageLimit int
}

func (h *Channel) ID() string { return h.id }

func (h *Channel) State() transport.ChannelState {
	state, ok := h.client.backend.State(h.id)
	if !ok {
		return transport.ChannelState{ID: h.id}
	}
	h.mu.RLock()
	limit := h.messageLimit
	h.mu.RUnlock()
	return transport.TrimMessages(state, limit)
}

func (h *Channel) Watch(ctx context.Context, opts transport.WatchOptions) error {
	user, err := h.client.current()
	if err != nil {
		return err
	}
	if err := h.client.backend.runHook(ctx, OpWatch, user.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	state, ok := h.client.backend.State(h.id)
	if !ok {
		return transport.ErrChannelNotFound
	}
	if _, ok := state.Member(user.ID); !ok {
		return transport.ErrNotMember
	}
	if opts.MessageLimit > 0 {
		h.setMessageLimit(opts.MessageLimit)
	}
	h.setWatched(true)
	return nil
}

func (h *Channel) SendMessage(ctx context.Context, input transport.MessageInput) (transport.Message, error) {
	user, err := h.client.current()
	if err != nil {
		return transport.Message{}, err
	}
	if err := h.client.backend.runHook(ctx, OpSend, user.ID); err != nil {
		return transport.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return transport.Message{}, err
	}
	return h.client.backend.Post(h.id, transport.Message{
		User:        user,
		Text:        input.Text,
		Attachments: input.Attachments,
		ParentID:    input.ParentID,
	})
}

func (h *Channel) MarkRead(ctx context.Context) error {
	user, err := h.client.current()
	if err != nil {
		return err
	}
	if err := h.client.backend.runHook(ctx, OpMarkRead, user.ID); err != nil {
		return err
	}
	return h.client.backend.MarkRead(h.id, user.ID)
}

func (h *Channel) On(handler transport.Handler, types ...transport.EventType) transport.Unsubscribe {
	return h.listeners.Add(handler, types...)
}

// Watched reports whether the handle receives channel events.
func (h *Channel) Watched() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.watched
}

// Listeners returns the number of live channel registrations.
func (h *Channel) Listeners() int {
	return h.listeners.Len()
}

func (h *Channel) setWatched(v bool) {
	h.mu.Lock()
	h.watched = v
	h.mu.Unlock()
}

func (h *Channel) setMessageLimit(n int) {
	h.mu.Lock()
	h.messageLimit = n
	h.mu.Unlock()
}

func (h *Channel) deliver(ev transport.Event) {
	if !h.Watched() {
		return
	}
	h.listeners.Dispatch(ev)
}

func (h *Channel) release() {
	h.setWatched(false)
	h.listeners.Reset()
}
