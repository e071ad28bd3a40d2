// Package session stores refresh sessions in Redis, keyed by token hash.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"copydesk/api/internal/store"
)

const (
	keyPrefix  = "refresh:"
	defaultTTL = 30 * 24 * time.Hour
)

// ErrSessionNotFound covers both unknown and expired refresh tokens.
var ErrSessionNotFound = errors.New("refresh session not found")

// sessionRecord is what Redis holds per refresh token. Identity fields are
// captured at issue time so refreshing mints a new access token without a
// database round trip.
type sessionRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	LocalGroup  string    `json:"local_group,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client, used when the process
// shares one Redis connection across subsystems and in tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRefreshSession stores the session under the token hash with a TTL
// matching the token's expiry.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	record, err := json.Marshal(sessionRecord{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		LocalGroup:  user.LocalGroup,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if err := s.client.Set(ctx, keyPrefix+tokenHash, record, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a token hash back to the user it was issued
// for. Expired sessions simply age out of Redis.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, keyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return store.User{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if record.Role == "" {
		record.Role = "contributor"
	}
	return store.User{
		ID:          record.UserID,
		DisplayName: record.DisplayName,
		Role:        record.Role,
		LocalGroup:  record.LocalGroup,
	}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, keyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
