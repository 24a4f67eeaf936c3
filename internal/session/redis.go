package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

const (
	// SessionPrefix is the Redis key prefix for session blobs.
	SessionPrefix = "session:"

	// TokenPrefix is the Redis key prefix for the token -> session key index.
	TokenPrefix = "session_token:"
)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps each session as a JSON blob with a TTL and a parallel
// token index key expiring alongside it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type redisRecord struct {
	Key       string          `json:"key"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: normalizeTTL(ttl)}
}

func (s *RedisStore) Create(ctx context.Context, state chat.State) (chat.Session, error) {
	sess := newSession(state, s.ttl, time.Now().UTC())

	payload, err := encodeRecord(sess)
	if err != nil {
		return chat.Session{}, err
	}

	if state.Token != "" {
		ok, err := s.client.SetNX(ctx, TokenPrefix+state.Token, sess.Key, s.ttl).Result()
		if err != nil {
			return chat.Session{}, fmt.Errorf("session: index token: %w", err)
		}
		if !ok {
			return chat.Session{}, fmt.Errorf("session: token %q already registered", state.Token)
		}
	}

	if err := s.client.Set(ctx, SessionPrefix+sess.Key, payload, s.ttl).Err(); err != nil {
		if state.Token != "" {
			s.client.Del(ctx, TokenPrefix+state.Token)
		}
		return chat.Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) FindByToken(ctx context.Context, token string) (chat.Session, error) {
	key, err := s.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("session: lookup token: %w", err)
	}

	payload, err := s.client.Get(ctx, SessionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Stale index entry; the session expired or was deleted first.
		s.client.Del(ctx, TokenPrefix+token)
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("session: load %s: %w", key, err)
	}

	sess, err := decodeRecord(payload)
	if err != nil {
		return chat.Session{}, err
	}
	if sess.State.Token != token {
		return chat.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess chat.Session) error {
	payload, err := encodeRecord(sess)
	if err != nil {
		return err
	}

	// XX + KEEPTTL: only overwrite live sessions and keep their original expiry.
	res, err := s.client.SetArgs(ctx, SessionPrefix+sess.Key, payload, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session: save %s: %w", sess.Key, err)
	}
	if res != "OK" {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	payload, err := s.client.Get(ctx, SessionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: load %s: %w", key, err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+key)
	if sess, err := decodeRecord(payload); err == nil && sess.State.Token != "" {
		pipe.Del(ctx, TokenPrefix+sess.State.Token)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func encodeRecord(sess chat.Session) ([]byte, error) {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return nil, fmt.Errorf("session: encode state: %w", err)
	}
	payload, err := json.Marshal(redisRecord{
		Key:       sess.Key,
		State:     state,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("session: encode record: %w", err)
	}
	return payload, nil
}

func decodeRecord(payload []byte) (chat.Session, error) {
	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return chat.Session{}, fmt.Errorf("session: decode record: %w", err)
	}

	var state chat.State
	if len(rec.State) > 0 {
		if err := json.Unmarshal(rec.State, &state); err != nil {
			return chat.Session{}, fmt.Errorf("session: %w", err)
		}
	}

	return chat.Session{
		Key:       rec.Key,
		State:     state,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}
