package chat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/token"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"
)

// State is the connection state of a Session.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

const opConnect = "connect"

// Lease describes a successful Connect.
type Lease struct {
	Identity transport.User
	Epoch    uint64
	Reused   bool // the identity was already bound, nothing was reconnected
}

// Session owns the process's transport client and binds it to at most one
// identity at a time.
//
// Every transition bumps the epoch. A connect whose epoch is no longer current
// when its I/O completes was overtaken by a disconnect and undoes itself.
type Session struct {
	logger  *zap.Logger
	client  transport.Client
	tokens  token.Provider
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	identity transport.User
	target   transport.User
	epoch    uint64
	teardown []func()
}

// NewSession creates an idle session that owns client
func NewSession(logger *zap.Logger, client transport.Client, tokens token.Provider, m *metrics.Metrics) *Session {
	return &Session{
		logger:  logger.Named("chat.session"),
		client:  client,
		tokens:  tokens,
		metrics: m,
		state:   StateIdle,
	}
}

// OnTeardown registers fn to run, in registration order, before the transport
// is disconnected.
func (s *Session) OnTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = append(s.teardown, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity bound or being bound.
func (s *Session) Identity() (transport.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return transport.User{}, false
	}
	return s.identity, true
}

// Target returns the identity an in-flight connect is establishing. It is
// cleared once that connect settles or a disconnect overtakes it.
func (s *Session) Target() (transport.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.target.ID != ""
}

// Current reports whether epoch still identifies the live connection.
func (s *Session) Current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.epoch == epoch
}

// Client returns the transport client when the session is connected.
func (s *Session) Client() (transport.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.state == StateConnected
}

// Connect binds identity. Connecting the identity already bound is a no-op,
// a different identity is fully disconnected first. Connect is rejected with
// ErrSessionBusy while another transition is in flight.
func (s *Session) Connect(ctx context.Context, identity transport.User) (Lease, error) {
	if identity.ID == "" {
		return Lease{}, ErrInvalidIdentity
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateDisconnecting:
		s.mu.Unlock()
		return Lease{}, ErrSessionBusy
	case StateConnected:
		if s.identity.ID == identity.ID {
			lease := Lease{Identity: s.identity, Epoch: s.epoch, Reused: true}
			s.mu.Unlock()
			return lease, nil
		}
		prev := s.identity
		s.state = StateDisconnecting
		s.target = identity
		s.epoch++
		switching := s.epoch
		s.mu.Unlock()

		s.logger.Info("switching identity",
			zap.String("from", prev.ID),
			zap.String("to", identity.ID))
		s.release(ctx, prev)

		s.mu.Lock()
		if s.epoch != switching {
			s.state = StateIdle
			s.identity = transport.User{}
			s.target = transport.User{}
			s.mu.Unlock()
			return Lease{}, newError(KindConnection, opConnect, "session was disconnected while switching identity", nil)
		}
	}

	s.state = StateConnecting
	s.identity = identity
	s.target = identity
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	err := s.establish(ctx, identity)

	s.mu.Lock()
	s.target = transport.User{}
	if s.epoch != epoch {
		// Disconnect was requested while connecting.
		s.mu.Unlock()
		if err == nil {
			s.disconnectTransport(ctx, identity)
		}
		s.finishDisconnect()
		s.logger.Info("connect abandoned by disconnect", zap.String("user_id", identity.ID))
		return Lease{}, newError(KindConnection, opConnect, "session was disconnected while connecting", err)
	}
	if err != nil {
		s.state = StateIdle
		s.identity = transport.User{}
		s.mu.Unlock()
		s.logger.Warn("failed to connect", zap.String("user_id", identity.ID), zap.Error(err))
		return Lease{}, err
	}
	s.state = StateConnected
	s.mu.Unlock()

	s.metrics.SessionUp()
	s.logger.Info("session connected", zap.String("user_id", identity.ID))
	return Lease{Identity: identity, Epoch: epoch}, nil
}

func (s *Session) establish(ctx context.Context, identity transport.User) error {
	tok, err := s.tokens.Token(ctx, identity)
	if err != nil {
		return newError(KindMissingCredential, opConnect, "failed to fetch session token", err)
	}
	if strings.TrimSpace(tok) == "" {
		return newError(KindMissingCredential, opConnect, "token provider returned no token", nil)
	}
	if err := s.client.Connect(ctx, identity, tok); err != nil {
		return newError(KindConnection, opConnect, "transport rejected the connection", err)
	}
	return nil
}

// Disconnect tears the session down. It is idempotent and never fails:
// transport errors are logged. A disconnect during another transition is
// completed by that transition once its I/O returns.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return
	case StateConnecting, StateDisconnecting:
		s.state = StateDisconnecting
		s.target = transport.User{}
		s.epoch++
		s.mu.Unlock()
		return
	}
	prev := s.identity
	s.state = StateDisconnecting
	s.epoch++
	s.mu.Unlock()

	s.release(ctx, prev)
	s.finishDisconnect()
	s.logger.Info("session disconnected", zap.String("user_id", prev.ID))
}

func (s *Session) finishDisconnect() {
	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.state = StateIdle
		s.identity = transport.User{}
	}
	s.mu.Unlock()
}

// release runs the teardown hooks and then disconnects the transport.
func (s *Session) release(ctx context.Context, user transport.User) {
	s.mu.Lock()
	hooks := append([]func(){}, s.teardown...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	s.disconnectTransport(ctx, user)
	s.metrics.SessionDown()
}

func (s *Session) disconnectTransport(ctx context.Context, user transport.User) {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("failed to disconnect transport",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}
}
