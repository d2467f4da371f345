package redistransport

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
)

var (
	alice = transport.User{ID: "alice", Name: "Alice"}
	bob   = transport.User{ID: "bob", Name: "Bob"}
	carol = transport.User{ID: "carol", Name: "Carol"}
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := NewStore(zap.NewNop(), config.TransportRedisConfig{
		ClusterType: cnst.RedisClusterTypeSingle,
		Addr:        mr.Addr(),
		Prefix:      "test",
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return store, mr
}

type recorder struct {
	mu     sync.Mutex
	events []transport.Event
}

func (r *recorder) handle(ev transport.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestNewStore_ConnectionError(t *testing.T) {
	s, err := NewStore(zap.NewNop(), config.TransportRedisConfig{Addr: "127.0.0.1:0"})
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestNewStore_DefaultTopic(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Equal(t, "test", store.prefix)
	assert.Equal(t, "test:events", store.topic)
}

func TestStore_ChannelDocument(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	state, err := store.CreateChannel(ctx, "c1", alice, bob, alice)
	require.NoError(t, err)
	assert.Len(t, state.Members, 2)
	assert.True(t, mr.Exists("test:channel:c1"))

	members, err := mr.Members("test:member:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, members)

	_, err = store.CreateChannel(ctx, "c1", alice)
	assert.Error(t, err)

	msg, err := store.Post(ctx, "c1", transport.Message{User: alice, Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, transport.MessageRegular, msg.Type)

	_, err = store.Post(ctx, "c1", transport.Message{User: carol, Text: "intruder"})
	assert.ErrorIs(t, err, transport.ErrNotMember)
	_, err = store.Post(ctx, "missing", transport.Message{User: alice, Text: "x"})
	assert.ErrorIs(t, err, transport.ErrChannelNotFound)
	_, err = store.Post(ctx, "c1", transport.Message{User: alice, Text: "  "})
	assert.ErrorIs(t, err, transport.ErrEmptyMessage)

	_, err = store.UpdateMessage(ctx, "c1", msg.ID, "hello")
	require.NoError(t, err)
	_, err = store.DeleteMessage(ctx, "c1", "nope")
	assert.ErrorIs(t, err, transport.ErrMessageNotFound)

	got, err := store.State(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Text)
	assert.Equal(t, 1, got.Read["bob"].UnreadMessages)
	assert.Equal(t, msg.CreatedAt.Unix(), got.Read["alice"].LastRead.Unix())

	require.NoError(t, store.MarkRead(ctx, "c1", "bob"))
	got, err = store.State(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Read["bob"].UnreadMessages)
}

func TestClient_QueryAndEvents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateChannel(ctx, "c1", alice, bob)
	require.NoError(t, err)
	_, err = store.CreateChannel(ctx, "c2", bob, carol)
	require.NoError(t, err)

	c := store.NewClient()
	require.NoError(t, c.Connect(ctx, alice, "token"))
	defer func() { _ = c.Disconnect(ctx) }()
	assert.ErrorIs(t, c.Connect(ctx, alice, "token"), transport.ErrAlreadyConnected)

	online, err := store.Online(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	channels, err := c.QueryChannels(ctx,
		transport.Filter{Type: cnst.ChannelTypeMessaging, Members: []string{"alice"}},
		[]transport.SortOption{{Field: transport.SortLastMessageAt, Direction: -1}},
		transport.QueryOptions{Watch: true, State: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "c1", channels[0].ID())
	member, _ := channels[0].State().Member("alice")
	assert.True(t, member.Online)

	var session, scoped recorder
	c.On(session.handle, transport.MessageEvents...)
	channels[0].On(scoped.handle, transport.EventMessageNew)

	_, err = store.Post(ctx, "c1", transport.Message{User: bob, Text: "ping"})
	require.NoError(t, err)
	_, err = store.Post(ctx, "c2", transport.Message{User: bob, Text: "not for alice"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return scoped.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return session.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "c1", session.last().ChannelID)

	state := channels[0].State()
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "ping", state.Messages[0].Text)
}

func TestChannel_SendAndMarkRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateChannel(ctx, "c1", alice, bob)
	require.NoError(t, err)

	c := store.NewClient()
	require.NoError(t, c.Connect(ctx, alice, "token"))
	defer func() { _ = c.Disconnect(ctx) }()

	h, ok := c.Channel("c1")
	require.True(t, ok)
	require.NoError(t, h.Watch(ctx, transport.WatchOptions{MessageLimit: 50}))
	assert.True(t, h.(*Channel).Watched())

	msg, err := h.SendMessage(ctx, transport.MessageInput{Text: "yo"})
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.User.ID)
	assert.Len(t, h.State().Messages, 1)

	require.NoError(t, h.MarkRead(ctx))
	assert.Equal(t, 0, h.State().Read["alice"].UnreadMessages)

	_, ok = c.Channel("missing")
	assert.False(t, ok)
}

func TestChannel_WatchRequiresMembership(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateChannel(ctx, "c1", bob, carol)
	require.NoError(t, err)

	c := store.NewClient()
	require.NoError(t, c.Connect(ctx, alice, "token"))
	defer func() { _ = c.Disconnect(ctx) }()

	h, ok := c.Channel("c1")
	require.True(t, ok)
	assert.ErrorIs(t, h.Watch(ctx, transport.WatchOptions{}), transport.ErrNotMember)
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	c := store.NewClient()
	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Connect(ctx, alice, "token"))
	var r recorder
	c.On(r.handle)

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))

	online, err := store.Online(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	_, err = c.QueryChannels(ctx, transport.Filter{}, nil, transport.QueryOptions{})
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	require.NoError(t, c.Connect(ctx, alice, "token"))
	require.NoError(t, c.Disconnect(ctx))
}

func TestClient_Verifier(t *testing.T) {
	store, _ := newTestStore(t, WithVerifier(func(token string) (string, error) { return token, nil }))
	ctx := context.Background()

	c := store.NewClient()
	assert.ErrorIs(t, c.Connect(ctx, alice, "bob"), transport.ErrUnauthorized)
	require.NoError(t, c.Connect(ctx, alice, "alice"))
	require.NoError(t, c.Disconnect(ctx))
}

func TestPresenceEvents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateChannel(ctx, "c1", alice, bob)
	require.NoError(t, err)

	ca := store.NewClient()
	require.NoError(t, ca.Connect(ctx, alice, "token"))
	defer func() { _ = ca.Disconnect(ctx) }()
	var r recorder
	ca.On(r.handle, transport.EventPresenceChanged)

	cb := store.NewClient()
	require.NoError(t, cb.Connect(ctx, bob, "token"))
	assert.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.last().User.Online)

	require.NoError(t, cb.Disconnect(ctx))
	assert.Eventually(t, func() bool { return r.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, r.last().User.Online)
}

// blockingGet holds GET commands for key until released.
type blockingGet struct {
	key     string
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *blockingGet) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *blockingGet) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		args := cmd.Args()
		if cmd.Name() == "get" && len(args) == 2 && args[1] == h.key {
			h.once.Do(func() { close(h.arrived) })
			<-h.release
		}
		return next(ctx, cmd)
	}
}

func (h *blockingGet) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestClient_ChannelLoadsOutsideLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateChannel(ctx, "c1", alice, alice, bob)
	require.NoError(t, err)
	c := store.NewClient()
	require.NoError(t, c.Connect(ctx, alice, "token"))
	defer func() { _ = c.Disconnect(ctx) }()

	hook := &blockingGet{key: store.channelKey("c1"), arrived: make(chan struct{}), release: make(chan struct{})}
	store.rdb.AddHook(hook)

	type result struct {
		ch transport.Channel
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		ch, ok := c.Channel("c1")
		done <- result{ch, ok}
	}()

	select {
	case <-hook.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never reached redis")
	}
	// Event delivery and other readers are not blocked by the round-trip.
	require.True(t, c.mu.TryRLock())
	c.mu.RUnlock()
	close(hook.release)

	r := <-done
	require.True(t, r.ok)
	assert.Equal(t, "c1", r.ch.ID())
	again, ok := c.Channel("c1")
	require.True(t, ok)
	assert.Same(t, r.ch, again)

	_, ok = c.Channel("missing")
	assert.False(t, ok)
}
