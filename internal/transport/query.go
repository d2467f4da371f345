package transport

import (
	"sort"
	"time"
)

// Matches reports whether state satisfies filter.
func (f Filter) Matches(state ChannelState) bool {
	if f.Type != "" && state.Type != f.Type {
		return false
	}
	for _, id := range f.Members {
		if _, ok := state.Member(id); !ok {
			return false
		}
	}
	return true
}

// SortStates orders states in place by the given options. Ties keep
// channel id order so results are deterministic.
func SortStates(states []ChannelState, opts []SortOption) {
	sort.SliceStable(states, func(i, j int) bool {
		for _, opt := range opts {
			a, b := sortKey(states[i], opt.Field), sortKey(states[j], opt.Field)
			if a.Equal(b) {
				continue
			}
			if opt.Direction < 0 {
				return a.After(b)
			}
			return a.Before(b)
		}
		return states[i].ID < states[j].ID
	})
}

func sortKey(s ChannelState, field string) time.Time {
	switch field {
	case SortCreatedAt:
		return s.CreatedAt
	default:
		if s.LastMessageAt.IsZero() {
			return s.CreatedAt
		}
		return s.LastMessageAt
	}
}

// SelectStates filters, sorts and limits states as QueryChannels does.
func SelectStates(states []ChannelState, filter Filter, sortOpts []SortOption, limit int) []ChannelState {
	out := make([]ChannelState, 0, len(states))
	for _, s := range states {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	SortStates(out, sortOpts)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TrimMessages keeps the newest limit messages of state.
func TrimMessages(state ChannelState, limit int) ChannelState {
	if limit > 0 && len(state.Messages) > limit {
		state.Messages = state.Messages[len(state.Messages)-limit:]
	}
	return state
}
