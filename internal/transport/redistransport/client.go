package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/transport"
)

var (
	_ transport.Client  = (*Client)(nil)
	_ transport.Channel = (*Channel)(nil)
)

// Client is one connection to the shared Redis backend.
type Client struct {
	store     *Store
	logger    *zap.Logger
	listeners *transport.Listeners

	mu      sync.RWMutex
	user    *transport.User
	pubsub  *redis.PubSub
	done    chan struct{}
	handles map[string]*Channel
}

// NewClient returns a disconnected client bound to the store
func (s *Store) NewClient() *Client {
	return &Client{
		store:     s,
		logger:    s.logger.Named("client"),
		listeners: transport.NewListeners(),
		handles:   make(map[string]*Channel),
	}
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
	if user.ID == "" {
		return fmt.Errorf("%w: empty user id", transport.ErrUnauthorized)
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", transport.ErrUnauthorized)
	}
	if c.store.verify != nil {
		subject, err := c.store.verify(token)
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

	pubsub := c.store.rdb.Subscribe(ctx, c.store.topic)
	// Wait for the subscription to be confirmed so no event is missed after Connect returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		c.reset()
		return fmt.Errorf("failed to subscribe to %s: %w", c.store.topic, err)
	}
	if err := c.store.setOnline(ctx, u, true); err != nil {
		_ = pubsub.Close()
		c.reset()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.pubsub = pubsub
	c.done = done
	c.mu.Unlock()
	go c.handleEvents(pubsub.Channel(), done)

	c.logger.Debug("client connected", zap.String("user_id", u.ID))
	return nil
}

func (c *Client) reset() {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return nil
	}
	user := *c.user
	pubsub, done := c.pubsub, c.done
	handles := c.handles
	c.user, c.pubsub, c.done = nil, nil, nil
	c.handles = make(map[string]*Channel)
	c.mu.Unlock()

	c.listeners.Reset()
	for _, h := range handles {
		h.release()
	}

	var firstErr error
	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close subscription: %w", err)
		}
		<-done
	}
	if err := c.store.setOnline(ctx, user, false); err != nil && firstErr == nil {
		firstErr = err
	}
	c.logger.Debug("client disconnected", zap.String("user_id", user.ID))
	return firstErr
}

// handleEvents fans pub/sub envelopes out to the client's listeners
func (c *Client) handleEvents(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			c.logger.Error("failed to unmarshal event",
				zap.Error(err),
				zap.String("payload", msg.Payload))
			continue
		}
		c.deliver(env)
	}
}

func (c *Client) deliver(env envelope) {
	c.mu.RLock()
	if c.user == nil || !slices.Contains(env.Members, c.user.ID) {
		c.mu.RUnlock()
		return
	}
	var targets []*Channel
	ev := env.Event
	if ev.ChannelID != "" {
		if h, ok := c.handles[ev.ChannelID]; ok {
			targets = append(targets, h)
		}
	} else if ev.User != nil {
		for _, h := range c.handles {
			if _, ok := h.State().Member(ev.User.ID); ok {
				targets = append(targets, h)
			}
		}
	}
	c.mu.RUnlock()

	for _, h := range targets {
		if err := h.refresh(context.Background()); err != nil {
			c.logger.Warn("failed to refresh channel state",
				zap.String("channel_id", h.id),
				zap.Error(err))
		}
	}
	c.listeners.Dispatch(ev)
	for _, h := range targets {
		h.deliver(ev)
	}
}

func (c *Client) QueryChannels(ctx context.Context, filter transport.Filter, sort []transport.SortOption, opts transport.QueryOptions) ([]transport.Channel, error) {
	user, err := c.current()
	if err != nil {
		return nil, err
	}
	states, err := c.store.states(ctx, filter.Members)
	if err != nil {
		return nil, err
	}
	states = transport.SelectStates(states, filter, sort, opts.Limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != user.ID {
		return nil, transport.ErrNotConnected
	}
	out := make([]transport.Channel, 0, len(states))
	for _, st := range states {
		h := c.handleLocked(st.ID)
		h.set(st, opts.MessageLimit, opts.Watch)
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) Channel(id string) (transport.Channel, bool) {
	c.mu.RLock()
	user := c.user
	h, ok := c.handles[id]
	c.mu.RUnlock()
	if user == nil {
		return nil, false
	}
	if ok {
		return h, true
	}

	// Unknown handles are loaded synchronously so callers can watch them.
	state, err := c.store.State(context.Background(), id)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != user.ID {
		return nil, false
	}
	if h, ok := c.handles[id]; ok {
		return h, true
	}
	h = c.handleLocked(id)
	h.set(state, 0, false)
	return h, true
}

func (c *Client) On(handler transport.Handler, types ...transport.EventType) transport.Unsubscribe {
	return c.listeners.Add(handler, types...)
}

// handleLocked returns the tracked handle for id, creating it. Caller holds c.mu.
func (c *Client) handleLocked(id string) *Channel {
	h, ok := c.handles[id]
	if !ok {
		h = &Channel{client: c, id: id, listeners: transport.NewListeners(), state: transport.ChannelState{ID: id}}
		c.handles[id] = h
	}
	return h
}

// Channel is a client's cached handle on one Redis channel document.
type Channel struct {
	client    *Client
	id        string
	listeners *transport.Listeners

	mu           sync.RWMutex
	state        transport.ChannelState
	watched      bool
	messageLimit int
}

func (h *Channel) ID() string { return h.id }

func (h *Channel) State() transport.ChannelState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return transport.TrimMessages(h.state.Clone(), h.messageLimit)
}

func (h *Channel) set(state transport.ChannelState, messageLimit int, watch bool) {
	h.mu.Lock()
	h.state = state
	if messageLimit > 0 {
		h.messageLimit = messageLimit
	}
	if watch {
		h.watched = true
	}
	h.mu.Unlock()
}

func (h *Channel) refresh(ctx context.Context) error {
	state, err := h.client.store.State(ctx, h.id)
	if err != nil {
		return err
	}
	h.set(state, 0, false)
	return nil
}

func (h *Channel) Watch(ctx context.Context, opts transport.WatchOptions) error {
	user, err := h.client.current()
	if err != nil {
		return err
	}
	state, err := h.client.store.State(ctx, h.id)
	if err != nil {
		return err
	}
	if _, ok := state.Member(user.ID); !ok {
		return transport.ErrNotMember
	}
	h.set(state, opts.MessageLimit, true)
	return nil
}

func (h *Channel) SendMessage(ctx context.Context, input transport.MessageInput) (transport.Message, error) {
	user, err := h.client.current()
	if err != nil {
		return transport.Message{}, err
	}
	msg, err := h.client.store.Post(ctx, h.id, transport.Message{
		User:        user,
		Text:        input.Text,
		Attachments: input.Attachments,
		ParentID:    input.ParentID,
	})
	if err != nil {
		return transport.Message{}, err
	}
	if err := h.refresh(ctx); err != nil {
		h.client.logger.Warn("failed to refresh channel after send", zap.String("channel_id", h.id), zap.Error(err))
	}
	return msg, nil
}

func (h *Channel) MarkRead(ctx context.Context) error {
	user, err := h.client.current()
	if err != nil {
		return err
	}
	if err := h.client.store.MarkRead(ctx, h.id, user.ID); err != nil {
		return err
	}
	return h.refresh(ctx)
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

func (h *Channel) deliver(ev transport.Event) {
	if !h.Watched() {
		return
	}
	h.listeners.Dispatch(ev)
}

func (h *Channel) release() {
	h.mu.Lock()
	h.watched = false
	h.mu.Unlock()
	h.listeners.Reset()
}
