package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound indicates an unknown or expired bearer token.
var ErrSessionNotFound = NewError(KindValidation, "session_not_found", "session not found")

// SessionStore resolves bearer tokens to callers. Tokens are issued by the
// identity service, which writes the caller payload under the shared prefix.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "p2p:session:"
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

// Load returns the caller stored for token and refreshes its expiry.
func (s *SessionStore) Load(ctx context.Context, token string) (Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Caller{}, ErrSessionNotFound
		}
		return Caller{}, err
	}
	var caller Caller
	if err := json.Unmarshal(payload, &caller); err != nil {
		return Caller{}, err
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, s.key(token), s.ttl).Err()
	}
	return caller, nil
}

// Save stores caller under token.
func (s *SessionStore) Save(ctx context.Context, token string, caller Caller) error {
	data, err := json.Marshal(caller)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(token), data, s.ttl).Err()
}

// Delete removes token.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	err := s.client.Del(ctx, s.key(token)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *SessionStore) key(token string) string {
	return s.prefix + token
}
