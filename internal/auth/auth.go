// Package auth verifies the bearer tokens presented in the WebSocket
// auth handshake and resolves them to user identities.
package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// User is the identity a verified token resolves to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier resolves a raw token to a user. Implementations must return
// ErrInvalidToken for unknown or expired tokens so the gateway can pick
// the right close code.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// StaticCredential pairs a bcrypt token hash with the user it grants.
type StaticCredential struct {
	User      User
	TokenHash string
}

// StaticVerifier checks tokens against a fixed credential list. Meant
// for development and single-tenant deployments without a token store.
type StaticVerifier struct {
	creds []StaticCredential
}

func NewStaticVerifier(creds []StaticCredential) *StaticVerifier {
	return &StaticVerifier{creds: append([]StaticCredential(nil), creds...)}
}

// HashToken produces a bcrypt hash suitable for StaticCredential.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (User, error) {
	for _, c := range v.creds {
		if bcrypt.CompareHashAndPassword([]byte(c.TokenHash), []byte(token)) == nil {
			return c.User, nil
		}
	}
	return User{}, ErrInvalidToken
}
