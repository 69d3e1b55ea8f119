package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chessmate/backend/internal/enginepool"
	"github.com/chessmate/backend/internal/requestqueue"
	"github.com/chessmate/backend/internal/uci"
	"github.com/chessmate/backend/internal/uci/ucitest"
)

type fakeClient struct {
	mu   sync.Mutex
	user string
	open bool
	sent []any
}

func newFakeClient(user string) *fakeClient {
	return &fakeClient{user: user, open: true}
}

func (c *fakeClient) UserID() string { return c.user }

func (c *fakeClient) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeClient) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeClient) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

const (
	fenWhiteToMove = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	fenBlackToMove = "rnbqkbnr/pppppppp/8/4P3/8/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
)

func analyzeMsg(t *testing.T, m Message) json.RawMessage {
	t.Helper()
	m.Type = "analyze"
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestHandleValidation(t *testing.T) {
	h := NewHandler(requestqueue.New())

	cases := []struct {
		name string
		msg  Message
	}{
		{"missing requestId", Message{FENBefore: fenWhiteToMove, FENAfter: fenBlackToMove, Move: "e2e4", PlayerColor: "white"}},
		{"bad fenBefore", Message{RequestID: "r", FENBefore: "nonsense", FENAfter: fenBlackToMove, Move: "e2e4", PlayerColor: "white"}},
		{"bad fenAfter", Message{RequestID: "r", FENBefore: fenWhiteToMove, FENAfter: "x y z", Move: "e2e4", PlayerColor: "white"}},
		{"missing move", Message{RequestID: "r", FENBefore: fenWhiteToMove, FENAfter: fenBlackToMove, PlayerColor: "white"}},
		{"bad color", Message{RequestID: "r", FENBefore: fenWhiteToMove, FENAfter: fenBlackToMove, Move: "e2e4", PlayerColor: "green"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient("u")
			h.Handle(analyzeMsg(t, tc.msg), client)

			frames := client.frames()
			require.Len(t, frames, 1, "validation failure must answer synchronously")
			ef, ok := frames[0].(errorFrame)
			require.True(t, ok)
			assert.Equal(t, "analysis_error", ef.Type)
		})
	}
}

func TestHandleMalformedJSON(t *testing.T) {
	h := NewHandler(requestqueue.New())
	client := newFakeClient("u")
	h.Handle(json.RawMessage(`{"type":"analyze",`), client)

	frames := client.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "analysis_error", frames[0].(errorFrame).Type)
}

// Scenario: white's best was +120 but the played move left +20 (reported
// as -20 by the engine since black is then to move). CPL 100 on a full
// board: inaccuracy, impact 19.5, opening weight 0.7.
func TestAnalysisArithmeticEndToEnd(t *testing.T) {
	var searches int
	var mu sync.Mutex
	_, stdinW, stdoutR := ucitest.New(func(cmd string, out io.Writer) {
		mu.Lock()
		searches++
		n := searches
		mu.Unlock()
		if n == 1 {
			fmt.Fprintln(out, "info depth 10 multipv 1 score cp 120 pv d2d4 g8f6")
			fmt.Fprintln(out, "info depth 10 multipv 2 score cp 90 pv e2e4 e7e5")
			fmt.Fprintln(out, "bestmove d2d4")
		} else {
			fmt.Fprintln(out, "info depth 10 multipv 1 score cp -20 pv g8f6")
			fmt.Fprintln(out, "bestmove g8f6")
		}
	})
	engine, err := uci.Attach(0, uci.KindAnalysis, stdinW, stdoutR)
	require.NoError(t, err)

	pool := enginepool.NewFromEngines(uci.KindAnalysis, []*uci.Engine{engine})
	defer pool.Shutdown()
	queue := requestqueue.New()
	h := NewHandler(queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go requestqueue.NewDispatcher(queue, pool, nil).Run(ctx)

	client := newFakeClient("u")
	h.Handle(analyzeMsg(t, Message{
		RequestID:   "req-1",
		FENBefore:   fenWhiteToMove,
		FENAfter:    fenBlackToMove,
		Move:        "e2e4",
		PlayerColor: "white",
	}), client)

	require.Eventually(t, func() bool { return len(client.frames()) == 1 }, 3*time.Second, 10*time.Millisecond)

	res, ok := client.frames()[0].(*Result)
	require.True(t, ok, "expected a Result, got %T", client.frames()[0])

	assert.Equal(t, "analysis_result", res.Type)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "e2e4", res.Move)
	assert.Equal(t, 100, res.CentipawnLoss)
	assert.Equal(t, Inaccuracy, res.Classification)
	assert.Equal(t, 19.5, res.AccuracyImpact)
	assert.Equal(t, Opening, res.Phase)
	assert.Equal(t, 13.7, res.WeightedImpact)
	assert.Equal(t, 1.2, res.EvalBefore)
	assert.Equal(t, 0.2, res.EvalAfter)
	assert.Equal(t, "d2d4", res.BestMove)
}

func TestShapeBlackPerspective(t *testing.T) {
	h := NewHandler(requestqueue.New())
	msg := &Message{RequestID: "r", Move: "e7e5", PlayerColor: "black", FENBefore: fenBlackToMove}

	// White-perspective evals: best -50 (good for black), after -10.
	before := []uci.Candidate{{Move: "c7c5", Eval: -50}}
	after := []uci.Candidate{{Move: "g1f3", Eval: -10}}

	res := h.shape(msg, before, after)
	assert.Equal(t, 40, res.CentipawnLoss, "black's perspective: 50 - 10")
	assert.Equal(t, Good, res.Classification)
	assert.Equal(t, 0.5, res.EvalBefore)
	assert.Equal(t, 0.1, res.EvalAfter)
}

func TestCallbackSkippedWhenClientClosed(t *testing.T) {
	h := NewHandler(requestqueue.New())
	client := newFakeClient("u")
	client.Close()

	cb := h.callbackFunc(&Message{RequestID: "r"}, client)
	cb(&Result{}, nil)
	assert.Empty(t, client.frames(), "closed connection gets nothing")
}
