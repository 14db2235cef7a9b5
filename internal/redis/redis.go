// Package redis holds the shared client and the refresh token sessions kept in it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "everwalk:"

func sessionKey(tokenHash string) string { return keyPrefix + "session:" + tokenHash }

// userSessionsKey indexes a user's live refresh tokens so they can all be
// revoked without scanning the keyspace.
func userSessionsKey(userID uuid.UUID) string { return keyPrefix + "user-sessions:" + userID.String() }

type Service struct {
	client *redis.Client
}

func New(redisURL string) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Service{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Service {
	return &Service{client: client}
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client exposes the connection for the job status cache and the stream queue.
func (s *Service) Client() *redis.Client {
	return s.client
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// StoreSession records a refresh token hash for userID until ttl passes.
func (s *Service) StoreSession(ctx context.Context, userID uuid.UUID, tokenHash string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(tokenHash), userID.String(), ttl)
		p.SAdd(ctx, userSessionsKey(userID), tokenHash)
		p.Expire(ctx, userSessionsKey(userID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// SessionUser returns the owner of a live refresh token. Unknown or expired
// tokens give common.ErrInvalidToken.
func (s *Service) SessionUser(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	raw, err := s.client.Get(ctx, sessionKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, common.ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load session: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.ErrInvalidToken
	}
	return id, nil
}

func (s *Service) RevokeSession(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(tokenHash))
		p.SRem(ctx, userSessionsKey(userID), tokenHash)
		return nil
	})
	return err
}

// RevokeAllSessions drops every refresh token of userID and reports how many
// were live.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int, error) {
	hashes, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, sessionKey(h))
	}
	keys = append(keys, userSessionsKey(userID))
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	// the index key itself is counted when it existed
	if len(hashes) > 0 {
		n--
	}
	return int(n), nil
}
