// Package chat is the real-time conversation session manager.
//
// A Manager binds one local identity at a time to the transport, keeps the
// list of that identity's conversations current, and manages a single active
// conversation view. Observers read a consistent View and are told about
// changes through OnChange; every summary in a View is derived fresh from
// provider state at the time View is called.
package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/chat/projection"
	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/token"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"
	"github.com/amoylab/chatline/pkg/trace"
)

const (
	defaultQueryLimit   = 30
	defaultMessageLimit = 100
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	metrics        *metrics.Metrics
	labels         projection.Labels
	now            func() time.Time
	queryLimit     int
	messageLimit   int
	connectTimeout time.Duration
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLabels sets the labels used for relative times and previews.
func WithLabels(l projection.Labels) Option {
	return func(o *options) { o.labels = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithQueryLimit caps the number of conversations per query.
func WithQueryLimit(n int) Option {
	return func(o *options) { o.queryLimit = n }
}

// WithMessageLimit caps the messages loaded when a conversation is watched.
func WithMessageLimit(n int) Option {
	return func(o *options) { o.messageLimit = n }
}

// WithConnectTimeout bounds token fetch plus transport connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// Loading reports which operations are in flight.
type Loading struct {
	Connecting bool `json:"connecting"`
	Refreshing bool `json:"refreshing"`
	Opening    bool `json:"opening"`
	Sending    bool `json:"sending"`
}

// View is a read-only observation of the manager.
type View struct {
	State         State                    `json:"state"`
	Identity      *transport.User          `json:"identity,omitempty"`
	Conversations []projection.Summary     `json:"conversations"`
	Active        *projection.Summary      `json:"active,omitempty"`
	Messages      []projection.MessageView `json:"messages"`
	Loading       Loading                  `json:"loading"`
	Errors        map[Kind]string          `json:"errors,omitempty"`
}

// Manager is the consumer-facing session manager. It owns the transport
// client for its whole lifetime; call Close on process teardown.
type Manager struct {
	logger   *zap.Logger
	client   transport.Client
	opts     options
	tracer   *trace.Builder
	session  *Session
	channels *ChannelList
	active   *ActiveView

	mu       sync.Mutex
	inflight map[string]int
	errs     map[Kind]*Error
	watchers map[uint64]func()
	nextID   uint64
}

// NewManager creates a manager owning client
func NewManager(logger *zap.Logger, client transport.Client, tokens token.Provider, opts ...Option) *Manager {
	o := options{
		labels:       projection.DefaultLabels,
		now:          time.Now,
		queryLimit:   defaultQueryLimit,
		messageLimit: defaultMessageLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		logger:   logger.Named("chat"),
		client:   client,
		opts:     o,
		tracer:   trace.Tracer(cnst.TraceChat),
		inflight: make(map[string]int),
		errs:     make(map[Kind]*Error),
		watchers: make(map[uint64]func()),
	}
	m.session = NewSession(logger, client, tokens, o.metrics)
	m.channels = NewChannelList(logger, o.metrics, o.queryLimit, o.messageLimit, m.notify)
	m.active = NewActiveView(logger, o.metrics, o.messageLimit, m.notify)

	// Conversation scope first, then session scope, then the transport itself.
	m.session.OnTeardown(m.active.Close)
	m.session.OnTeardown(m.channels.Reset)
	return m
}

// ConnectSession binds identity and loads its conversations. Reconnecting the
// bound identity only re-runs the query. A connect that overlaps an in-flight
// connect for the same identity is dropped.
func (m *Manager) ConnectSession(ctx context.Context, identity transport.User) error {
	span := m.tracer.Start(ctx, cnst.SpanConnectSession).WithAttrs(attribute.String(cnst.AttrUserID, identity.ID))
	defer span.End()
	ctx = span.Ctx
	start := time.Now()

	m.clearErrors(KindMissingCredential, KindConnection)
	done := m.begin("connect")
	connectCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.opts.connectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, m.opts.connectTimeout)
	}
	lease, err := m.session.Connect(connectCtx, identity)
	cancel()
	done()

	if errors.Is(err, ErrSessionBusy) {
		m.opts.metrics.ConnectResult("busy")
		if target, ok := m.session.Target(); ok && target.ID == identity.ID {
			m.logger.Debug("dropping overlapping connect", zap.String("user_id", identity.ID))
			return nil
		}
		return err
	}
	if err != nil {
		m.fail(span, err)
		m.opts.metrics.ConnectResult(string(kindOrDefault(err, "invalid")))
		m.opts.metrics.OperationDone("connect", start, err)
		m.notify()
		return err
	}

	if lease.Reused {
		m.opts.metrics.ConnectResult("reused")
	} else {
		m.opts.metrics.ConnectResult("ok")
		m.channels.Bind(m.client, lease.Identity)
		if !m.session.Current(lease.Epoch) {
			// Disconnected between connect and bind.
			m.channels.Reset()
			return nil
		}
	}
	m.opts.metrics.OperationDone("connect", start, nil)

	if err := m.refresh(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		m.logger.Warn("initial conversation query failed",
			zap.String("user_id", identity.ID),
			zap.Error(err))
	}
	m.notify()
	return nil
}

// DisconnectSession releases every subscription and the transport
// connection. It is idempotent and always succeeds. Retained errors are
// cleared only when a session was actually torn down.
func (m *Manager) DisconnectSession(ctx context.Context) {
	span := m.tracer.Start(ctx, cnst.SpanDisconnectSession)
	defer span.End()

	identity, bound := m.session.Identity()
	if !bound {
		// Nothing to tear down. Errors from failed attempts stay observable.
		return
	}
	span.WithAttrs(attribute.String(cnst.AttrUserID, identity.ID))
	m.session.Disconnect(span.Ctx)

	m.mu.Lock()
	m.errs = make(map[Kind]*Error)
	m.mu.Unlock()
	m.notify()
}

// RefreshConversations re-runs the conversation query. Overlapping refreshes
// are allowed; the most recently started one determines the snapshot.
func (m *Manager) RefreshConversations(ctx context.Context) error {
	if m.session.State() != StateConnected {
		return ErrNotConnected
	}
	err := m.refresh(ctx)
	m.notify()
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	span := m.tracer.Start(ctx, cnst.SpanRefreshConversations)
	defer span.End()
	start := time.Now()

	m.clearErrors(KindQuery)
	done := m.begin("refresh")
	channels, err := m.channels.Query(span.Ctx)
	done()
	m.opts.metrics.OperationDone("query", start, err)
	if err != nil {
		m.fail(span, err)
		return err
	}
	span.WithAttrs(attribute.Int(cnst.AttrChannelCount, len(channels)))
	return nil
}

// OpenConversation makes id the single active conversation.
func (m *Manager) OpenConversation(ctx context.Context, id string) error {
	span := m.tracer.Start(ctx, cnst.SpanOpenConversation).WithAttrs(attribute.String(cnst.AttrChannelID, id))
	defer span.End()
	start := time.Now()

	client, ok := m.session.Client()
	identity, _ := m.session.Identity()
	if !ok {
		return ErrNotConnected
	}

	m.clearErrors(KindNotFound)
	done := m.begin("open")
	err := m.active.Open(span.Ctx, client, identity, id, m.channels.Lookup)
	done()
	m.opts.metrics.OperationDone("open", start, err)
	if err != nil {
		m.fail(span, err)
		m.notify()
		return err
	}
	return nil
}

// CloseConversation clears the active view. Idempotent.
func (m *Manager) CloseConversation() {
	m.active.Close()
}

// SendMessage sends trimmed text to the active conversation. Whitespace-only
// text or no active conversation is a no-op.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	span := m.tracer.Start(ctx, cnst.SpanSendMessage)
	defer span.End()
	start := time.Now()

	done := m.begin("send")
	attempted, err := m.active.Send(span.Ctx, text)
	done()
	if !attempted {
		m.opts.metrics.MessageSent("skipped")
		return nil
	}
	m.opts.metrics.OperationDone("send", start, err)
	if err != nil {
		m.opts.metrics.MessageSent("error")
		m.fail(span, err)
		m.notify()
		return err
	}
	m.opts.metrics.MessageSent("ok")
	m.clearErrors(KindSend)
	m.notify()
	return nil
}

// View returns the current observation. Summaries are ordered by most recent
// activity.
func (m *Manager) View() View {
	return m.ViewIn(m.opts.labels)
}

// ViewIn is View rendered with labels instead of the configured ones.
func (m *Manager) ViewIn(labels projection.Labels) View {
	if labels == nil {
		labels = m.opts.labels
	}
	v := View{State: m.session.State()}
	identity, bound := m.session.Identity()
	if bound {
		v.Identity = &identity
	}
	now := m.opts.now()

	if v.State == StateConnected {
		channels := m.channels.Snapshot()
		v.Conversations = make([]projection.Summary, 0, len(channels))
		for _, ch := range channels {
			v.Conversations = append(v.Conversations, projection.Summarize(ch.State(), identity.ID, now, labels))
		}
		sort.SliceStable(v.Conversations, func(i, j int) bool {
			return v.Conversations[i].LastActivity.After(v.Conversations[j].LastActivity)
		})
	}

	if ch, messages := m.active.Current(); ch != nil {
		s := projection.Summarize(ch.State(), identity.ID, now, labels)
		v.Active = &s
		v.Messages = messages
	}

	m.mu.Lock()
	v.Loading = Loading{
		Connecting: m.inflight["connect"] > 0,
		Refreshing: m.inflight["refresh"] > 0,
		Opening:    m.inflight["open"] > 0,
		Sending:    m.inflight["send"] > 0,
	}
	if len(m.errs) > 0 {
		v.Errors = make(map[Kind]string, len(m.errs))
		for k, e := range m.errs {
			v.Errors[k] = e.Error()
		}
	}
	m.mu.Unlock()
	return v
}

// LastError returns the retained error of the given kind.
func (m *Manager) LastError(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.errs[kind]; ok {
		return e
	}
	return nil
}

// OnChange registers fn to be called after every observable change. fn runs
// on the goroutine that caused the change and must not block.
func (m *Manager) OnChange(fn func()) (release func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

// Close tears the manager down at process shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.DisconnectSession(ctx)
	m.mu.Lock()
	m.watchers = make(map[uint64]func())
	m.mu.Unlock()
	return nil
}

func (m *Manager) notify() {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.watchers[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) begin(op string) (done func()) {
	m.mu.Lock()
	m.inflight[op]++
	m.mu.Unlock()
	m.notify()
	return func() {
		m.mu.Lock()
		m.inflight[op]--
		m.mu.Unlock()
	}
}

func (m *Manager) clearErrors(kinds ...Kind) {
	m.mu.Lock()
	for _, k := range kinds {
		delete(m.errs, k)
	}
	m.mu.Unlock()
}

// fail records err as the last error of its kind.
func (m *Manager) fail(span *trace.SpanScope, err error) {
	span.RecordError(err)
	var e *Error
	if !errors.As(err, &e) {
		return
	}
	span.WithAttrs(attribute.String(cnst.AttrErrorKind, string(e.Kind)))
	m.mu.Lock()
	m.errs[e.Kind] = e
	m.mu.Unlock()
}

func kindOrDefault(err error, def Kind) Kind {
	if k := KindOf(err); k != "" {
		return k
	}
	return def
}
