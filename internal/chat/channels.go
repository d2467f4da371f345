package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"
)

const opQuery = "query_channels"

// ChannelList keeps the snapshot of conversations visible to the bound
// identity.
//
// Events never patch the snapshot. They bump the version so observers
// re-derive summaries from live provider state. Overlapping queries resolve
// as last initiated wins: each query takes a sequence number and a result is
// only applied when no later query has been applied before it.
type ChannelList struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	limit        int
	messageLimit int
	notify       func()

	mu       sync.Mutex
	client   transport.Client
	identity transport.User
	binding  uint64
	seq      uint64
	applied  uint64
	channels []transport.Channel
	loaded   bool
	version  uint64
	sub      *slot
}

// NewChannelList creates an unbound channel list. notify is called after every change.
func NewChannelList(logger *zap.Logger, m *metrics.Metrics, limit, messageLimit int, notify func()) *ChannelList {
	if notify == nil {
		notify = func() {}
	}
	return &ChannelList{
		logger:       logger.Named("chat.channels"),
		metrics:      m,
		limit:        limit,
		messageLimit: messageLimit,
		notify:       notify,
		sub:          newSlot(metrics.ScopeSession, m),
	}
}

// Bind attaches the list to a connected client and subscribes to the
// session-wide message stream. Any previous binding is released first.
func (l *ChannelList) Bind(client transport.Client, identity transport.User) {
	l.mu.Lock()
	l.sub.Release()
	l.binding++
	binding := l.binding
	l.client = client
	l.identity = identity
	l.channels = nil
	l.loaded = false
	l.seq, l.applied = 0, 0
	l.version++

	unsub := client.On(func(ev transport.Event) {
		l.onEvent(binding, ev)
	}, transport.MessageEvents...)
	l.sub.Set(unsub)
	l.mu.Unlock()

	l.logger.Debug("channel list bound", zap.String("user_id", identity.ID))
}

func (l *ChannelList) onEvent(binding uint64, ev transport.Event) {
	l.mu.Lock()
	if l.binding != binding {
		l.mu.Unlock()
		return
	}
	l.version++
	l.mu.Unlock()

	l.metrics.EventReceived(metrics.ScopeSession, string(ev.Type))
	l.notify()
}

// Query runs the channel query for the bound identity and stores the result
// as the snapshot. A failed query keeps the previous snapshot.
func (l *ChannelList) Query(ctx context.Context) ([]transport.Channel, error) {
	l.mu.Lock()
	if l.client == nil {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	client, identity, binding := l.client, l.identity, l.binding
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	channels, err := client.QueryChannels(ctx,
		transport.Filter{Type: cnst.ChannelTypeMessaging, Members: []string{identity.ID}},
		[]transport.SortOption{{Field: transport.SortLastMessageAt, Direction: -1}},
		transport.QueryOptions{Watch: true, State: true, Limit: l.limit, MessageLimit: l.messageLimit},
	)

	l.mu.Lock()
	if l.binding != binding {
		l.mu.Unlock()
		l.logger.Debug("discarding query for previous binding", zap.Uint64("seq", seq))
		return nil, nil
	}
	if err != nil {
		superseded := seq != l.seq
		l.mu.Unlock()
		if superseded {
			l.logger.Debug("discarding failed query superseded by a later one", zap.Uint64("seq", seq), zap.Error(err))
			return l.Snapshot(), nil
		}
		return nil, newError(KindQuery, opQuery, "failed to query conversations", err)
	}
	if seq < l.applied {
		current := append([]transport.Channel(nil), l.channels...)
		l.mu.Unlock()
		l.logger.Debug("discarding out of order query result", zap.Uint64("seq", seq), zap.Uint64("applied", l.applied))
		return current, nil
	}
	l.applied = seq
	l.channels = channels
	l.loaded = true
	l.version++
	l.mu.Unlock()

	l.logger.Debug("channel list refreshed",
		zap.String("user_id", identity.ID),
		zap.Int("count", len(channels)))
	l.notify()
	return append([]transport.Channel(nil), channels...), nil
}

// Snapshot returns the current channel handles in query order.
func (l *ChannelList) Snapshot() []transport.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transport.Channel(nil), l.channels...)
}

// Loaded reports whether a query has succeeded since the last bind.
func (l *ChannelList) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Lookup finds a channel in the snapshot.
func (l *ChannelList) Lookup(id string) (transport.Channel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.channels {
		if ch.ID() == id {
			return ch, true
		}
	}
	return nil, false
}

// Version changes whenever the snapshot or any channel in it changed.
func (l *ChannelList) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Subscribed reports whether the session-wide registration is live.
func (l *ChannelList) Subscribed() bool {
	return l.sub.Live()
}

// Reset releases the subscription and drops the snapshot. In-flight queries
// of the released binding are discarded when they return.
func (l *ChannelList) Reset() {
	l.mu.Lock()
	released := l.sub.Release()
	wasBound := l.client != nil
	l.binding++
	l.client = nil
	l.identity = transport.User{}
	l.channels = nil
	l.loaded = false
	l.version++
	l.mu.Unlock()

	if released || wasBound {
		l.notify()
	}
}
