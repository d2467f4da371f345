// Package redistransport is a transport backend shared between processes
// through Redis.
//
// Each channel is a JSON document updated with optimistic WATCH/MULTI
// transactions. Every mutation is published on a single pub/sub topic and
// each connected Client fans the envelopes out to its own listeners.
package redistransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ifuryst/lol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/utils"
)

const maxTxRetries = 16

var _ transport.Admin = (*Store)(nil)

// envelope is the pub/sub wire format. Members lists the users that should
// receive the event.
type envelope struct {
	Event   transport.Event `json:"event"`
	Members []string        `json:"members,omitempty"`
}

type Option func(*Store)

// WithVerifier makes Connect validate session tokens.
func WithVerifier(v transport.TokenVerifier) Option {
	return func(s *Store) { s.verify = v }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the Redis keyspace of the backend.
type Store struct {
	logger *zap.Logger
	rdb    redis.UniversalClient
	prefix string
	topic  string
	verify transport.TokenVerifier
	now    func() time.Time
}

// NewStore connects to Redis and returns a Store
func NewStore(logger *zap.Logger, cfg config.TransportRedisConfig, opts ...Option) (*Store, error) {
	redisOptions := &redis.UniversalOptions{
		Addrs:    utils.SplitAddrs(cfg.Addr),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		redisOptions.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		redisOptions.DB = cfg.DB
	}
	rdb := redis.NewUniversalClient(redisOptions)

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := utils.FirstNonEmpty(cfg.Prefix, cnst.AppName)
	s := &Store{
		logger: logger.Named("transport.redis"),
		rdb:    rdb,
		prefix: prefix,
		topic:  utils.FirstNonEmpty(cfg.Topic, prefix+":events"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the Redis connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) channelKey(id string) string   { return s.prefix + ":channel:" + id }
func (s *Store) memberKey(userID string) string { return s.prefix + ":member:" + userID }
func (s *Store) onlineKey(userID string) string { return s.prefix + ":online:" + userID }

// CreateChannel stores a new messaging channel. The creator is always a member.
func (s *Store) CreateChannel(ctx context.Context, id string, creator transport.User, members ...transport.User) (transport.ChannelState, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if creator.ID == "" {
		return transport.ChannelState{}, fmt.Errorf("channel %s: creator id is required", id)
	}

	now := s.now()
	state := transport.ChannelState{
		ID:        id,
		Type:      cnst.ChannelTypeMessaging,
		CreatedBy: &creator,
		Read:      make(map[string]transport.ReadState),
		CreatedAt: now,
	}
	seen := make(map[string]bool)
	for _, m := range append([]transport.User{creator}, members...) {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.Online = false
		state.Members = append(state.Members, m)
		state.Read[m.ID] = transport.ReadState{User: m, LastRead: now}
	}
	state.CreatedBy.Online = false

	data, err := json.Marshal(state)
	if err != nil {
		return transport.ChannelState{}, fmt.Errorf("failed to marshal channel: %w", err)
	}
	created, err := s.rdb.SetNX(ctx, s.channelKey(id), data, 0).Result()
	if err != nil {
		return transport.ChannelState{}, fmt.Errorf("failed to store channel: %w", err)
	}
	if !created {
		return transport.ChannelState{}, fmt.Errorf("%w: %s", transport.ErrChannelExists, id)
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range state.Members {
			pipe.SAdd(ctx, s.memberKey(m.ID), id)
		}
		return nil
	})
	if err != nil {
		return transport.ChannelState{}, fmt.Errorf("failed to index channel members: %w", err)
	}

	s.logger.Debug("channel created", zap.String("channel_id", id), zap.Int("members", len(state.Members)))
	return s.resolve(ctx, state), nil
}

// State loads a channel with member presence resolved.
func (s *Store) State(ctx context.Context, id string) (transport.ChannelState, error) {
	state, err := s.load(ctx, id)
	if err != nil {
		return transport.ChannelState{}, err
	}
	return s.resolve(ctx, state), nil
}

func (s *Store) load(ctx context.Context, id string) (transport.ChannelState, error) {
	data, err := s.rdb.Get(ctx, s.channelKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return transport.ChannelState{}, transport.ErrChannelNotFound
		}
		return transport.ChannelState{}, fmt.Errorf("failed to load channel %s: %w", id, err)
	}
	var state transport.ChannelState
	if err := json.Unmarshal(data, &state); err != nil {
		return transport.ChannelState{}, fmt.Errorf("failed to unmarshal channel %s: %w", id, err)
	}
	return state, nil
}

// states loads every channel visible to the given members.
func (s *Store) states(ctx context.Context, members []string) ([]transport.ChannelState, error) {
	var ids []string
	if len(members) > 0 {
		keys := make([]string, 0, len(members))
		for _, m := range lol.UniqSlice(members) {
			keys = append(keys, s.memberKey(m))
		}
		var err error
		ids, err = s.rdb.SInter(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read member index: %w", err)
		}
	} else {
		iter := s.rdb.Scan(ctx, 0, s.channelKey("*"), 100).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, strings.TrimPrefix(iter.Val(), s.channelKey("")))
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan channels: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.channelKey(id))
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	out := make([]transport.ChannelState, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var state transport.ChannelState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			s.logger.Warn("skipping malformed channel", zap.String("channel_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, s.resolve(ctx, state))
	}
	return out, nil
}

// resolve fills in member presence from the online counters.
func (s *Store) resolve(ctx context.Context, state transport.ChannelState) transport.ChannelState {
	if len(state.Members) == 0 {
		return state
	}
	keys := make([]string, 0, len(state.Members))
	for _, m := range state.Members {
		keys = append(keys, s.onlineKey(m.ID))
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("failed to resolve presence", zap.String("channel_id", state.ID), zap.Error(err))
		return state
	}
	online := make(map[string]bool, len(values))
	for i, v := range values {
		raw, _ := v.(string)
		online[state.Members[i].ID] = raw != "" && raw != "0"
	}
	for i := range state.Members {
		state.Members[i].Online = online[state.Members[i].ID]
	}
	if state.CreatedBy != nil {
		state.CreatedBy.Online = online[state.CreatedBy.ID]
	}
	return state
}

// update applies fn to a channel document inside an optimistic transaction.
func (s *Store) update(ctx context.Context, id string, fn func(*transport.ChannelState) error) (transport.ChannelState, error) {
	key := s.channelKey(id)
	var state transport.ChannelState

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return transport.ErrChannelNotFound
			}
			return err
		}
		state = transport.ChannelState{}
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to unmarshal channel %s: %w", id, err)
		}
		if err := fn(&state); err != nil {
			return err
		}
		data, err = json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal channel %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return transport.ChannelState{}, err
		}
		return state, nil
	}
	return transport.ChannelState{}, fmt.Errorf("channel %s: too many concurrent updates", id)
}

// Post appends msg to a channel on behalf of msg.User and publishes message.new.
func (s *Store) Post(ctx context.Context, channelID string, msg transport.Message) (transport.Message, error) {
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 && msg.Type != transport.MessageSystem {
		return transport.Message{}, transport.ErrEmptyMessage
	}

	now := s.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == transport.MessageUntyped {
		msg.Type = transport.MessageRegular
		if msg.ParentID != "" {
			msg.Type = transport.MessageReply
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt

	state, err := s.update(ctx, channelID, func(state *transport.ChannelState) error {
		sender, ok := state.Member(msg.User.ID)
		if !ok && msg.Type != transport.MessageSystem {
			return transport.ErrNotMember
		}
		if ok {
			msg.User = sender
		}
		state.Messages = append(state.Messages, msg)
		if msg.CreatedAt.After(state.LastMessageAt) {
			state.LastMessageAt = msg.CreatedAt
		}
		for _, m := range state.Members {
			rs, ok := state.Read[m.ID]
			if !ok {
				continue
			}
			if m.ID == msg.User.ID {
				rs.LastRead = msg.CreatedAt
				rs.UnreadMessages = 0
			} else {
				rs.UnreadMessages++
			}
			state.Read[m.ID] = rs
		}
		return nil
	})
	if err != nil {
		return transport.Message{}, err
	}

	s.publish(ctx, state, transport.Event{
		Type:      transport.EventMessageNew,
		ChannelID: channelID,
		Message:   &msg,
		CreatedAt: now,
	})
	return msg, nil
}

// UpdateMessage replaces the text of an existing message.
func (s *Store) UpdateMessage(ctx context.Context, channelID, messageID, text string) (transport.Message, error) {
	return s.mutate(ctx, channelID, messageID, transport.EventMessageUpdated, func(m *transport.Message, now time.Time) {
		m.Text = text
		m.UpdatedAt = now
	})
}

// DeleteMessage soft-deletes a message.
func (s *Store) DeleteMessage(ctx context.Context, channelID, messageID string) (transport.Message, error) {
	return s.mutate(ctx, channelID, messageID, transport.EventMessageDeleted, func(m *transport.Message, now time.Time) {
		m.Type = transport.MessageDeleted
		m.DeletedAt = &now
		m.UpdatedAt = now
	})
}

func (s *Store) mutate(ctx context.Context, channelID, messageID string, evType transport.EventType, fn func(*transport.Message, time.Time)) (transport.Message, error) {
	now := s.now()
	var msg transport.Message
	state, err := s.update(ctx, channelID, func(state *transport.ChannelState) error {
		for i := range state.Messages {
			if state.Messages[i].ID == messageID {
				fn(&state.Messages[i], now)
				msg = state.Messages[i]
				return nil
			}
		}
		return transport.ErrMessageNotFound
	})
	if err != nil {
		return transport.Message{}, err
	}

	s.publish(ctx, state, transport.Event{
		Type:      evType,
		ChannelID: channelID,
		Message:   &msg,
		CreatedAt: now,
	})
	return msg, nil
}

// MarkRead advances userID's read position in a channel to now.
func (s *Store) MarkRead(ctx context.Context, channelID, userID string) error {
	now := s.now()
	var member transport.User
	state, err := s.update(ctx, channelID, func(state *transport.ChannelState) error {
		m, ok := state.Member(userID)
		if !ok {
			return transport.ErrNotMember
		}
		member = m
		state.Read[userID] = transport.ReadState{User: m, LastRead: now}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, state, transport.Event{
		Type:      transport.EventMessageRead,
		ChannelID: channelID,
		User:      &member,
		CreatedAt: now,
	})
	return nil
}

func (s *Store) publish(ctx context.Context, state transport.ChannelState, ev transport.Event) {
	members := make([]string, 0, len(state.Members))
	for _, m := range state.Members {
		members = append(members, m.ID)
	}
	s.publishTo(ctx, members, ev)
}

func (s *Store) publishTo(ctx context.Context, members []string, ev transport.Event) {
	data, err := json.Marshal(envelope{Event: ev, Members: members})
	if err != nil {
		s.logger.Error("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, s.topic, data).Err(); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("type", string(ev.Type)),
			zap.String("channel_id", ev.ChannelID),
			zap.Error(err))
	}
}

// setOnline adjusts the user's connection counter and publishes a presence
// change when the user goes online or offline.
func (s *Store) setOnline(ctx context.Context, user transport.User, online bool) error {
	key := s.onlineKey(user.ID)
	var (
		n   int64
		err error
	)
	if online {
		n, err = s.rdb.Incr(ctx, key).Result()
	} else {
		n, err = s.rdb.Decr(ctx, key).Result()
		if err == nil && n <= 0 {
			err = s.rdb.Del(ctx, key).Err()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}

	if (online && n == 1) || (!online && n <= 0) {
		peers, err := s.peersOf(ctx, user.ID)
		if err != nil {
			s.logger.Warn("failed to resolve presence peers", zap.String("user_id", user.ID), zap.Error(err))
			return nil
		}
		if len(peers) == 0 {
			return nil
		}
		user.Online = online
		s.publishTo(ctx, peers, transport.Event{Type: transport.EventPresenceChanged, User: &user, CreatedAt: s.now()})
	}
	return nil
}

// Online reports whether userID has at least one connected client.
func (s *Store) Online(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Get(ctx, s.onlineKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) peersOf(ctx context.Context, userID string) ([]string, error) {
	states, err := s.states(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	var peers []string
	for _, st := range states {
		for _, m := range st.Members {
			if m.ID != userID {
				peers = append(peers, m.ID)
			}
		}
	}
	return lol.UniqSlice(peers), nil
}
