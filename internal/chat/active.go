package chat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/chat/projection"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"
)

const (
	opOpen = "open_conversation"
	opSend = "send_message"
)

// ActiveView holds the single open conversation and its projected messages.
//
// Each Open or Close starts a new generation. Watch and event callbacks that
// belong to an older generation are dropped.
type ActiveView struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	messageLimit int
	notify       func()

	mu       sync.Mutex
	gen      uint64
	channel  transport.Channel
	identity transport.User
	messages []projection.MessageView
	sub      *slot
}

// NewActiveView creates an empty view. notify is called after every change.
func NewActiveView(logger *zap.Logger, m *metrics.Metrics, messageLimit int, notify func()) *ActiveView {
	if notify == nil {
		notify = func() {}
	}
	return &ActiveView{
		logger:       logger.Named("chat.active"),
		metrics:      m,
		messageLimit: messageLimit,
		notify:       notify,
		sub:          newSlot(metrics.ScopeConversation, m),
	}
}

// Lookup resolves a conversation id to a channel handle.
type Lookup func(id string) (transport.Channel, bool)

// Open makes id the active conversation. The snapshot lookup is tried first,
// then the client's tracked handles. An unknown id leaves the view unchanged.
func (a *ActiveView) Open(ctx context.Context, client transport.Client, identity transport.User, id string, lookup Lookup) error {
	var (
		ch transport.Channel
		ok bool
	)
	if lookup != nil {
		ch, ok = lookup(id)
	}
	if !ok && client != nil {
		ch, ok = client.Channel(id)
	}
	if !ok {
		return newError(KindNotFound, opOpen, "conversation "+id+" not found", nil)
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.sub.Release()
	a.channel = nil
	a.messages = nil
	a.mu.Unlock()

	if err := ch.Watch(ctx, transport.WatchOptions{MessageLimit: a.messageLimit}); err != nil {
		if !a.current(gen) {
			return nil
		}
		a.notify()
		return newError(KindQuery, opOpen, "failed to watch conversation "+id, err)
	}
	if err := ch.MarkRead(ctx); err != nil {
		a.logger.Warn("failed to mark conversation read",
			zap.String("channel_id", id),
			zap.Error(err))
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		a.logger.Debug("discarding superseded open", zap.String("channel_id", id))
		return nil
	}
	a.channel = ch
	a.identity = identity
	// Subscribe before the snapshot so nothing posted in between is lost.
	// Events racing the snapshot wait on a.mu and re-project.
	a.sub.Set(ch.On(func(ev transport.Event) {
		a.onEvent(gen, ev)
	}, transport.MessageEvents...))
	a.messages = projection.Messages(ch.State(), identity.ID)
	a.mu.Unlock()

	a.logger.Debug("conversation opened", zap.String("channel_id", id))
	a.notify()
	return nil
}

func (a *ActiveView) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

func (a *ActiveView) onEvent(gen uint64, ev transport.Event) {
	a.mu.Lock()
	if a.gen != gen || a.channel == nil {
		a.mu.Unlock()
		return
	}
	a.messages = projection.Messages(a.channel.State(), a.identity.ID)
	a.mu.Unlock()

	a.metrics.EventReceived(metrics.ScopeConversation, string(ev.Type))
	a.notify()
}

// Close releases the conversation subscription and clears the view. Idempotent.
func (a *ActiveView) Close() {
	a.mu.Lock()
	a.gen++
	released := a.sub.Release()
	had := a.channel != nil
	a.channel = nil
	a.identity = transport.User{}
	a.messages = nil
	a.mu.Unlock()

	if released || had {
		a.notify()
	}
}

// Send submits trimmed text to the open conversation. Empty text or no open
// conversation is a no-op. The message shows up through the resulting event.
func (a *ActiveView) Send(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil || text == "" {
		return false, nil
	}

	if _, err := ch.SendMessage(ctx, transport.MessageInput{Text: text}); err != nil {
		return true, newError(KindSend, opSend, "failed to send message to "+ch.ID(), err)
	}
	return true, nil
}

// Current returns the open channel and its projected messages, newest first.
func (a *ActiveView) Current() (transport.Channel, []projection.MessageView) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil {
		return nil, nil
	}
	return a.channel, append([]projection.MessageView(nil), a.messages...)
}

// Subscribed reports whether a conversation registration is live.
func (a *ActiveView) Subscribed() bool {
	return a.sub.Live()
}
