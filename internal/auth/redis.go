package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultTokenPrefix = "chessmate:token:"

// TokenStore is the slice of the redis client the verifier needs;
// *redis.Client satisfies it.
type TokenStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisVerifier resolves tokens through a shared Redis token store. The
// session service writes `<prefix><token>` keys holding the user JSON
// with the session TTL; expiry revokes the token for us.
type RedisVerifier struct {
	store  TokenStore
	prefix string
}

func NewRedisVerifier(client TokenStore, keyPrefix string) *RedisVerifier {
	if keyPrefix == "" {
		keyPrefix = defaultTokenPrefix
	}
	return &RedisVerifier{store: client, prefix: keyPrefix}
}

func (v *RedisVerifier) Verify(ctx context.Context, token string) (User, error) {
	data, err := v.store.Get(ctx, v.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("auth: token lookup: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("auth: token record: %w", err)
	}
	if u.ID == "" {
		return User{}, ErrInvalidToken
	}
	return u, nil
}
