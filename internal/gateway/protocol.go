// Package gateway terminates WebSocket connections and routes frames to
// the suggestion and analysis handlers. It owns authentication, per-user
// rate limiting, liveness and disconnect cleanup.
package gateway

import (
	"github.com/chessmate/backend/internal/auth"
)

// Close codes used during the auth handshake.
const (
	CloseAuthTimeout  = 4001
	CloseNoToken      = 4002
	CloseInvalidToken = 4003
)

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type authSuccessFrame struct {
	Type string    `json:"type"`
	User auth.User `json:"user"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// envelope carries only the routing discriminator; handlers re-decode
// the raw payload themselves.
type envelope struct {
	Type string `json:"type"`
}
