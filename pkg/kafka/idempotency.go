package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which event ids were handled successfully.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}

// MemoryIdempotencyStore keeps ids in process memory. It is the fallback
// when Redis is not available, so duplicates are only caught per replica
// and are forgotten on restart.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // event id -> expiry
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: map[string]time.Time{}, ttl: ttl, now: time.Now}
}

func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.seen[eventID]
	if ok && !s.now().Before(expiry) {
		delete(s.seen, eventID)
		return false, nil
	}
	return ok, nil
}

// Add records eventID and drops every entry that has expired.
func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, id)
		}
	}
	s.seen[eventID] = now.Add(s.ttl)
	return nil
}

// Len counts the ids currently held, expired or not.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisIdempotencyStore shares handled ids across replicas and restarts.
// Keys are "<prefix>:<event id>" and expire after ttl.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+":"+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return n == 1, nil
}

func (s *RedisIdempotencyStore) Add(ctx context.Context, eventID string) error {
	handledAt := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, s.prefix+":"+eventID, handledAt, s.ttl).Err(); err != nil {
		return fmt.Errorf("record processed event %s: %w", eventID, err)
	}
	return nil
}

// IdempotentHandler runs inner at most once per event id. An event is
// recorded only after inner succeeds, so failures are retried on redelivery.
// When the store cannot be read the event is handled anyway; the order
// handlers are safe to repeat, a lost restore is not.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		log := logger.With(
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
		)

		switch seen, err := store.Contains(ctx, event.EventID); {
		case err != nil:
			log.WarnContext(ctx, "idempotency lookup failed, handling event", slog.String("error", err.Error()))
		case seen:
			ConsumerDuplicates.WithLabelValues(event.EventType).Inc()
			log.DebugContext(ctx, "duplicate event skipped", slog.String("aggregate_id", event.AggregateID))
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}
		if err := store.Add(ctx, event.EventID); err != nil {
			log.WarnContext(ctx, "failed to record handled event", slog.String("error", err.Error()))
		}
		return nil
	}
}
