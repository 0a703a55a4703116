// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Redis key namespaces under the configured prefix.
const (
	keyTypeSession     = "session"
	keyTypeTokenStatus = "token"
	keyTypeReplay      = "replay"
	keyTypeAuthCode    = "code"
	keyTypeConsumed    = "code:used"
	keyTypeBackChannel = "bc"
)

func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address, host:port.
	Addr string

	// Username and Password authenticate against Redis ACLs.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "lighthouse:tenant-a:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStorage implements Storage with a Redis backend, enabling replay and
// revocation state shared across instances.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage connects to Redis and verifies connectivity.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return nil, errors.New("key prefix is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{client: client, keyPrefix: keyPrefix}
}

// Ping checks Redis connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// -----------------------
// SessionStore
// -----------------------

// PutSession stores or replaces a session. Sessions have no TTL.
func (s *RedisStorage) PutSession(ctx context.Context, session *oidc.AuthSession) error {
	if session == nil || session.SessionID == "" {
		return errors.New("session id cannot be empty")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := redisKey(s.keyPrefix, keyTypeSession, session.SessionID)
	return s.client.Set(ctx, key, data, 0).Err()
}

// GetSession returns the session.
func (s *RedisStorage) GetSession(ctx context.Context, sessionID string) (*oidc.AuthSession, error) {
	key := redisKey(s.keyPrefix, keyTypeSession, sessionID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session oidc.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes the session.
func (s *RedisStorage) DeleteSession(ctx context.Context, sessionID string) error {
	key := redisKey(s.keyPrefix, keyTypeSession, sessionID)

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return nil
}

// -----------------------
// TokenRegistry
// -----------------------

// RegisterToken records a newly issued token as Active. The entry expires
// with the token plus skew so late revocation checks still resolve.
func (s *RedisStorage) RegisterToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti cannot be empty")
	}

	ttl := time.Until(expiresAt) + ReplayClockSkew
	if ttl < MinReplayEntryTTL {
		ttl = MinReplayEntryTTL
	}

	key := redisKey(s.keyPrefix, keyTypeTokenStatus, jti)
	return s.client.Set(ctx, key, string(StatusActive), ttl).Err()
}

// SetTokenStatus moves a registered token to the given state, preserving the
// entry's TTL.
func (s *RedisStorage) SetTokenStatus(ctx context.Context, jti string, status TokenStatus) error {
	key := redisKey(s.keyPrefix, keyTypeTokenStatus, jti)

	set, err := s.client.SetXX(ctx, key, string(status), redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to set token status: %w", err)
	}
	if !set {
		return fmt.Errorf("%w: token %s", ErrNotFound, jti)
	}
	return nil
}

// GetTokenStatus returns the token state; absent entries read as Unknown.
func (s *RedisStorage) GetTokenStatus(ctx context.Context, jti string) (TokenStatus, error) {
	key := redisKey(s.keyPrefix, keyTypeTokenStatus, jti)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusUnknown, nil
		}
		return StatusUnknown, fmt.Errorf("failed to get token status: %w", err)
	}
	return TokenStatus(val), nil
}

// -----------------------
// ReplayStore
// -----------------------

// MarkJTIUsed records the jti with SETNX so exactly one concurrent caller
// observes fresh=true.
func (s *RedisStorage) MarkJTIUsed(ctx context.Context, namespace, jti string, expiresAt time.Time) (bool, error) {
	key := redisKey(s.keyPrefix, keyTypeReplay, replayKey(namespace, jti))

	fresh, err := s.client.SetNX(ctx, key, "1", replayTTL(expiresAt, time.Now())).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark jti: %w", err)
	}
	return fresh, nil
}

// IsJTIReplayed reports whether the jti was already marked used.
func (s *RedisStorage) IsJTIReplayed(ctx context.Context, namespace, jti string) (bool, error) {
	key := redisKey(s.keyPrefix, keyTypeReplay, replayKey(namespace, jti))

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check jti: %w", err)
	}
	return exists > 0, nil
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

// PutAuthorizationCode stores a code entry with a TTL matching its expiry.
func (s *RedisStorage) PutAuthorizationCode(ctx context.Context, entry *AuthorizationCodeEntry) error {
	if entry == nil || entry.Code == "" {
		return errors.New("authorization code cannot be empty")
	}

	stored := *entry
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = time.Now().Add(DefaultAuthorizationCodeTTL)
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	// Keep the entry for the consumed-marker window so a replayed code can
	// still resolve to its grant for revocation.
	ttl := time.Until(stored.ExpiresAt) + DefaultConsumedCodeTTL
	if ttl <= 0 {
		return errors.New("authorization code already expired")
	}

	key := redisKey(s.keyPrefix, keyTypeAuthCode, stored.Code)
	return s.client.Set(ctx, key, data, ttl).Err()
}

// GetAuthorizationCode returns the entry; consumed codes return the entry
// together with ErrCodeConsumed.
func (s *RedisStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCodeEntry, error) {
	consumedKey := redisKey(s.keyPrefix, keyTypeConsumed, code)
	consumed, err := s.client.Exists(ctx, consumedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check consumed marker: %w", err)
	}

	key := redisKey(s.keyPrefix, keyTypeAuthCode, code)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var entry AuthorizationCodeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	if consumed > 0 {
		return &entry, ErrCodeConsumed
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, ErrExpired
	}
	return &entry, nil
}

// ConsumeAuthorizationCode marks the code as redeemed. SETNX on the marker
// guarantees exactly one redeemer wins under concurrency.
func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string) error {
	key := redisKey(s.keyPrefix, keyTypeAuthCode, code)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check authorization code: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}

	consumedKey := redisKey(s.keyPrefix, keyTypeConsumed, code)
	fresh, err := s.client.SetNX(ctx, consumedKey, "1", DefaultConsumedCodeTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !fresh {
		return ErrCodeConsumed
	}
	return nil
}

// DeleteAuthorizationCode removes the entry and its consumed marker.
func (s *RedisStorage) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := redisKey(s.keyPrefix, keyTypeAuthCode, code)
	consumedKey := redisKey(s.keyPrefix, keyTypeConsumed, code)

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	_ = s.client.Del(ctx, consumedKey).Err()

	if deleted == 0 {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	return nil
}

// -----------------------
// BackChannelRequestStore
// -----------------------

// PutBackChannelRequest stores or replaces a CIBA request.
func (s *RedisStorage) PutBackChannelRequest(ctx context.Context, req *oidc.BackChannelAuthenticationRequest) error {
	if req == nil || req.AuthReqID == "" {
		return errors.New("auth_req_id cannot be empty")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal backchannel request: %w", err)
	}

	ttl := time.Until(req.ExpiresAt) + DefaultBackChannelGrace
	if ttl <= 0 {
		return errors.New("backchannel request already expired")
	}

	key := redisKey(s.keyPrefix, keyTypeBackChannel, req.AuthReqID)
	return s.client.Set(ctx, key, data, ttl).Err()
}

// GetBackChannelRequest returns the request.
func (s *RedisStorage) GetBackChannelRequest(ctx context.Context, authReqID string) (*oidc.BackChannelAuthenticationRequest, error) {
	key := redisKey(s.keyPrefix, keyTypeBackChannel, authReqID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: backchannel request %s", ErrNotFound, authReqID)
		}
		return nil, fmt.Errorf("failed to get backchannel request: %w", err)
	}

	var req oidc.BackChannelAuthenticationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backchannel request: %w", err)
	}
	return &req, nil
}

// DeleteBackChannelRequest removes the request.
func (s *RedisStorage) DeleteBackChannelRequest(ctx context.Context, authReqID string) error {
	key := redisKey(s.keyPrefix, keyTypeBackChannel, authReqID)

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete backchannel request: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: backchannel request %s", ErrNotFound, authReqID)
	}
	return nil
}

// Compile-time interface compliance check
var _ Storage = (*RedisStorage)(nil)
