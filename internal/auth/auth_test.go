package auth

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	hash, err := HashToken("secret-token")
	require.NoError(t, err)

	v := NewStaticVerifier([]StaticCredential{
		{User: User{ID: "u1", Email: "u1@example.com"}, TokenHash: hash},
	})

	u, err := v.Verify(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "u1@example.com", u.Email)

	_, err = v.Verify(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type fakeTokenStore struct {
	records map[string]string
}

func (f *fakeTokenStore) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.records[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func TestRedisVerifier(t *testing.T) {
	store := &fakeTokenStore{records: map[string]string{
		"chessmate:token:tok-1": `{"id":"u7","email":"u7@example.com"}`,
		"chessmate:token:empty": `{}`,
		"chessmate:token:junk":  `not json`,
	}}
	v := NewRedisVerifier(store, "")

	u, err := v.Verify(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u7", Email: "u7@example.com"}, u)

	_, err = v.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrInvalidToken, "a record without a user id grants nothing")

	_, err = v.Verify(context.Background(), "junk")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken, "storage corruption is not an auth failure")
}

func TestRedisVerifierCustomPrefix(t *testing.T) {
	store := &fakeTokenStore{records: map[string]string{
		"sess:abc": `{"id":"u1","email":"a@b.c"}`,
	}}
	v := NewRedisVerifier(store, "sess:")

	u, err := v.Verify(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}
