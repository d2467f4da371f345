package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/token"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/internal/transport/memory"
)

var (
	alice = transport.User{ID: "alice", Name: "Alice"}
	bob   = transport.User{ID: "bob", Name: "Bob"}
	carol = transport.User{ID: "carol", Name: "Carol"}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 15, 18, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingClient wraps a transport client and records connect/disconnect calls.
type recordingClient struct {
	transport.Client

	mu      sync.Mutex
	calls   []string
	live    int
	maxLive int
}

func (c *recordingClient) Connect(ctx context.Context, user transport.User, tok string) error {
	if err := c.Client.Connect(ctx, user, tok); err != nil {
		return err
	}
	c.mu.Lock()
	c.calls = append(c.calls, "connect:"+user.ID)
	c.live++
	if c.live > c.maxLive {
		c.maxLive = c.live
	}
	c.mu.Unlock()
	return nil
}

func (c *recordingClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.calls = append(c.calls, "disconnect")
	if c.live > 0 {
		c.live--
	}
	c.mu.Unlock()
	return c.Client.Disconnect(ctx)
}

func (c *recordingClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *recordingClient) MaxLive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLive
}

type fixture struct {
	backend *memory.Backend
	client  *recordingClient
	clock   *clock
	manager *Manager
}

func staticTokens() token.Provider {
	return token.ProviderFunc(func(_ context.Context, u transport.User) (string, error) {
		return "tok-" + u.ID, nil
	})
}

func newFixture(t *testing.T, tokens token.Provider, opts ...Option) *fixture {
	t.Helper()
	c := newClock()
	backend := memory.NewBackend(zap.NewNop(), memory.WithClock(c.Now))
	client := &recordingClient{Client: backend.NewClient()}
	if tokens == nil {
		tokens = staticTokens()
	}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	m := NewManager(zap.NewNop(), client, tokens, opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return &fixture{backend: backend, client: client, clock: c, manager: m}
}

func (f *fixture) channel(t *testing.T, id string, creator transport.User, members ...transport.User) {
	t.Helper()
	_, err := f.backend.CreateChannel(id, creator, members...)
	require.NoError(t, err)
}

func (f *fixture) post(t *testing.T, channelID string, from transport.User, text string) transport.Message {
	t.Helper()
	msg, err := f.backend.Post(channelID, transport.Message{User: from, Text: text})
	require.NoError(t, err)
	return msg
}

// handle returns the manager's tracked handle for a channel.
func (f *fixture) handle(t *testing.T, id string) *memory.Channel {
	t.Helper()
	ch, ok := f.client.Channel(id)
	require.True(t, ok)
	return ch.(*memory.Channel)
}

func summaryIDs(v View) []string {
	out := make([]string, 0, len(v.Conversations))
	for _, s := range v.Conversations {
		out = append(out, s.ID)
	}
	return out
}

// gate blocks callers until opened and reports when a caller has arrived.
type gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{arrived: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) error {
	g.arrived <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) awaitArrival(t *testing.T) {
	t.Helper()
	select {
	case <-g.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocked call")
	}
}
