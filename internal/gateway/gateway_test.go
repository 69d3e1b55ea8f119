package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chessmate/backend/internal/auth"
	"github.com/chessmate/backend/internal/ratelimit"
	"github.com/chessmate/backend/internal/requestqueue"
	"github.com/chessmate/backend/internal/uci"
)

type fakeVerifier struct {
	users map[string]auth.User
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (auth.User, error) {
	if u, ok := v.users[token]; ok {
		return u, nil
	}
	return auth.User{}, auth.ErrInvalidToken
}

func newTestVerifier() *fakeVerifier {
	return &fakeVerifier{users: map[string]auth.User{
		"tok-alice": {ID: "alice", Email: "alice@example.com"},
	}}
}

func startGateway(t *testing.T, gw *Gateway) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWebSocket))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))
	frame := readJSON(t, conn)
	require.Equal(t, "auth_success", frame["type"])
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func TestAuthSuccess(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "tok-alice"}))
	frame := readJSON(t, conn)

	assert.Equal(t, "auth_success", frame["type"])
	user := frame["user"].(map[string]any)
	assert.Equal(t, "alice", user["id"])
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, 1, gw.ConnectionCount())
	assert.Equal(t, 1, gw.AuthenticatedCount())
}

func TestAuthMissingToken(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth"}))
	expectClose(t, conn, CloseNoToken)
}

func TestAuthInvalidToken(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "bogus"}))
	expectClose(t, conn, CloseInvalidToken)
}

func TestAuthTimeout(t *testing.T) {
	gw := New(Config{AuthTimeout: 100 * time.Millisecond}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))

	expectClose(t, conn, CloseAuthTimeout)
}

func TestFramesBeforeAuthRejected(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "suggestion"}))
	frame := readJSON(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "not authenticated")
}

func TestRouting(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)

	var mu sync.Mutex
	var gotUser string
	var gotType string
	gw.Route("suggestion", func(raw json.RawMessage, c *Client) {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		mu.Lock()
		gotUser, gotType = c.UserID(), env.Type
		mu.Unlock()
	})

	conn := dial(t, startGateway(t, gw))
	authenticate(t, conn, "tok-alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "suggestion", "requestId": "r1"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotType == "suggestion"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "alice", gotUser)
	mu.Unlock()
}

func TestUnknownTypeAndMalformedFrames(t *testing.T) {
	gw := New(Config{}, newTestVerifier(), nil, nil)
	conn := dial(t, startGateway(t, gw))
	authenticate(t, conn, "tok-alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "teleport"}))
	frame := readJSON(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readJSON(t, conn)
	assert.Equal(t, "error", frame["type"])

	// The connection survives both.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "x"}))
	frame = readJSON(t, conn)
	assert.Contains(t, frame["error"], "already authenticated")
}

func TestRateLimitedFrames(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxPerMinute: 1, Burst: 1})
	defer limiter.Close()

	gw := New(Config{}, newTestVerifier(), limiter, nil)
	gw.Route("suggestion", func(json.RawMessage, *Client) {})

	conn := dial(t, startGateway(t, gw))
	authenticate(t, conn, "tok-alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "suggestion"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "suggestion"}))

	frame := readJSON(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "rate limit")
}

func TestDisconnectCancelsPendingRequests(t *testing.T) {
	q := requestqueue.New()
	gw := New(Config{}, newTestVerifier(), nil, nil, q)
	gw.Route("suggestion", func(raw json.RawMessage, c *Client) {
		q.Enqueue(&requestqueue.Request{
			ID:       "r1",
			UserID:   c.UserID(),
			Process:  func(context.Context, *uci.Engine) (any, error) { return nil, nil },
			Callback: func(any, error) {},
		})
	})

	conn := dial(t, startGateway(t, gw))
	authenticate(t, conn, "tok-alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "suggestion"}))
	require.Eventually(t, func() bool { return q.Stats().Pending == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return q.Stats().Pending == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gw.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatDropsSilentConnections(t *testing.T) {
	gw := New(Config{HeartbeatInterval: 100 * time.Millisecond}, newTestVerifier(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Run(ctx)

	url := startGateway(t, gw)

	// A responsive client answers pings (gorilla's default ping handler
	// pongs) and stays registered across several sweeps.
	live := dial(t, url)
	authenticate(t, live, "tok-alice")
	go func() {
		for {
			if _, _, err := live.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// A mute client swallows pings and must be dropped after two sweeps.
	mute := dial(t, url)
	mute.SetPingHandler(func(string) error { return nil })
	require.NoError(t, mute.WriteJSON(map[string]string{"type": "auth", "token": "tok-alice"}))
	var frame map[string]any
	require.NoError(t, mute.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, mute.ReadJSON(&frame))
	require.Equal(t, "auth_success", frame["type"])
	go func() {
		for {
			if _, _, err := mute.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return gw.ConnectionCount() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, gw.ConnectionCount(), "the responsive connection survives")
}
