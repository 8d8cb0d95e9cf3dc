package account

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// RedisStore adds a change feed to a VersionedRecords implementation.
// Every successful mutation publishes the state it wrote on the record's
// Redis channel; Subscribe listens on that channel. Publishes from
// different writers can reach Redis in any order, so subscribers keep
// only versions newer than the last one delivered.
type RedisStore struct {
	records VersionedRecords
	client  *redis.Client
	logger  *logging.Logger
	now     func() time.Time
}

func NewRedisStore(records VersionedRecords, client *redis.Client, logger *logging.Logger) *RedisStore {
	return &RedisStore{
		records: records,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
}

// changeMessage is the wire format on account channels. Record is nil for
// a deletion, whose Version is one past the deleted row's.
type changeMessage struct {
	Record  *Record   `json:"record"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// channelName generates the Redis channel for a record
func channelName(id string) string {
	return "account:" + id
}

func (s *RedisStore) CreateRecord(ctx context.Context, rec *Record) error {
	if err := s.records.CreateRecord(ctx, rec); err != nil {
		return err
	}
	created := *rec
	s.publish(ctx, rec.ID, changeMessage{Record: &created, Version: created.Version})
	return nil
}

func (s *RedisStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	return s.records.GetRecord(ctx, id)
}

func (s *RedisStore) IncrementPoints(ctx context.Context, id string, delta int) error {
	rec, err := s.records.IncrementPointsReturning(ctx, id, delta)
	if err != nil {
		return err
	}
	s.publish(ctx, id, changeMessage{Record: rec, Version: rec.Version})
	return nil
}

func (s *RedisStore) SetVerified(ctx context.Context, id string) error {
	rec, err := s.records.SetVerifiedReturning(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, id, changeMessage{Record: rec, Version: rec.Version})
	return nil
}

func (s *RedisStore) DeleteRecord(ctx context.Context, id string) error {
	last, err := s.records.DeleteRecordReturning(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, id, changeMessage{Version: last.Version + 1})
	return nil
}

// publish sends the state a mutation wrote. The mutation is already
// durable, so failures here are logged and not returned.
func (s *RedisStore) publish(ctx context.Context, id string, change changeMessage) {
	change.At = s.now()
	payload, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("failed to encode change message", "record_id", id, "error", err)
		return
	}

	if err := s.client.Publish(ctx, channelName(id), payload).Err(); err != nil {
		s.logger.Warn("failed to publish record change", "record_id", id, "error", err)
	}
}

// Subscribe confirms the channel subscription before reading the initial
// state, so no change between the two can be missed.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channelName(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe to record", err)
	}

	initial, err := s.records.GetRecord(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Snapshot),
		done:   make(chan struct{}),
		logger: s.logger.With("record_id", id),
	}

	var version int64
	if initial != nil {
		version = initial.Version
	}

	go sub.run(Snapshot{Record: initial, At: s.now()}, version)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Snapshot
	done   chan struct{}
	once   sync.Once
	logger *logging.Logger
}

func (s *redisSubscription) Updates() <-chan Snapshot {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// run delivers initial and then every change newer than the last delivery
func (s *redisSubscription) run(initial Snapshot, version int64) {
	defer close(s.out)

	if !s.send(initial) {
		return
	}

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn("dropping malformed change message", "error", err)
				continue
			}
			if change.Version <= version {
				s.logger.Debug("dropping stale change message", "version", change.Version, "delivered", version)
				continue
			}
			version = change.Version

			if !s.send(Snapshot{Record: change.Record, At: change.At}) {
				return
			}
		}
	}
}

func (s *redisSubscription) send(snap Snapshot) bool {
	select {
	case s.out <- snap:
		return true
	case <-s.done:
		return false
	}
}
