package chat

import (
	"sync"

	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"
)

// slot holds at most one live registration for a subscription scope.
type slot struct {
	scope   string
	metrics *metrics.Metrics

	mu    sync.Mutex
	unsub transport.Unsubscribe
}

func newSlot(scope string, m *metrics.Metrics) *slot {
	return &slot{scope: scope, metrics: m}
}

// Set stores unsub, releasing any registration still held.
func (s *slot) Set(unsub transport.Unsubscribe) {
	s.Release()
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	s.metrics.SubscriptionUp(s.scope)
}

// Release stops the held registration. It reports whether one was live.
func (s *slot) Release() bool {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub == nil {
		return false
	}
	unsub()
	s.metrics.SubscriptionDown(s.scope)
	return true
}

func (s *slot) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsub != nil
}
