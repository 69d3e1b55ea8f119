package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chessmate/backend/internal/requestqueue"
	"github.com/chessmate/backend/internal/uci"
)

const (
	resultType = "suggestion_result"
	errorType  = "suggestion_error"
)

// Client is the slice of a gateway connection the handler needs.
type Client interface {
	UserID() string
	Open() bool
	Send(v any) error
}

// Message is an inbound "suggestion" frame. Pointer fields distinguish
// "absent" from a deliberate zero.
type Message struct {
	Type      string   `json:"type"`
	RequestID string   `json:"requestId"`
	FEN       string   `json:"fen"`
	Moves     []string `json:"moves,omitempty"`

	TargetElo     *int   `json:"targetElo,omitempty"`
	Personality   string `json:"personality,omitempty"`
	MultiPV       int    `json:"multiPv,omitempty"`
	Contempt      *int   `json:"contempt,omitempty"`
	Variety       *int   `json:"variety,omitempty"`
	PuzzleMode    bool   `json:"puzzleMode,omitempty"`
	LimitStrength *bool  `json:"limitStrength,omitempty"`
	Armageddon    string `json:"armageddon,omitempty"`

	SearchMode     string `json:"searchMode,omitempty"`
	SearchNodes    int64  `json:"searchNodes,omitempty"`
	SearchDepth    int    `json:"searchDepth,omitempty"`
	SearchMovetime int    `json:"searchMovetime,omitempty"` // milliseconds
}

// Result is the suggestion artifact sent back to the client.
type Result struct {
	Type         string       `json:"type"`
	RequestID    string       `json:"requestId"`
	FEN          string       `json:"fen"`
	Suggestions  []Suggestion `json:"suggestions"`
	PositionEval float64      `json:"positionEval"`
	MateIn       *int         `json:"mateIn"`
	WinRate      float64      `json:"winRate"`
	MaxDepth     int          `json:"maxDepth"`
}

type errorFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

// Handler validates suggestion frames and enqueues the search work item.
type Handler struct {
	queue   *requestqueue.Queue
	labeler Labeler
	log     *slog.Logger
}

// NewHandler builds a handler over the suggestion queue. A nil labeler
// falls back to EvalGapLabeler.
func NewHandler(q *requestqueue.Queue, labeler Labeler) *Handler {
	if labeler == nil {
		labeler = EvalGapLabeler{}
	}
	return &Handler{queue: q, labeler: labeler, log: slog.With("component", "suggest")}
}

// Handle validates the frame; bad input fails synchronously with a
// suggestion_error frame and nothing is enqueued.
func (h *Handler) Handle(raw json.RawMessage, client Client) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(client, "", "malformed suggestion message")
		return
	}
	if err := h.validate(&msg); err != nil {
		h.sendError(client, msg.RequestID, err.Error())
		return
	}

	h.queue.Enqueue(&requestqueue.Request{
		ID:       msg.RequestID,
		UserID:   client.UserID(),
		Process:  h.processFunc(&msg),
		Callback: h.callbackFunc(&msg, client),
	})
}

func (h *Handler) validate(msg *Message) error {
	if msg.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if err := uci.ValidateFEN(msg.FEN); err != nil {
		return fmt.Errorf("fen: %v", err)
	}
	if err := validateEnum("armageddon", msg.Armageddon, "off", "white", "black"); err != nil {
		return err
	}
	if err := validateEnum("searchMode", msg.SearchMode, "nodes", "depth", "movetime"); err != nil {
		return err
	}
	return nil
}

func (h *Handler) processFunc(msg *Message) requestqueue.ProcessFunc {
	return func(_ context.Context, e *uci.Engine) (any, error) {
		if err := e.Configure(optionBag(msg, e.Kind)); err != nil {
			return nil, err
		}
		candidates, err := e.Search(
			uci.Position{FEN: msg.FEN, Moves: msg.Moves},
			multiPV(msg),
			searchLimits(msg),
		)
		if err != nil {
			return nil, err
		}
		return h.shape(msg, candidates), nil
	}
}

func (h *Handler) shape(msg *Message, candidates []uci.Candidate) *Result {
	suggestions := h.labeler.Label(candidates)
	top := suggestions[0]

	res := &Result{
		Type:         resultType,
		RequestID:    msg.RequestID,
		FEN:          msg.FEN,
		Suggestions:  suggestions,
		PositionEval: float64(top.Eval) / 100,
		WinRate:      top.WinPct,
	}
	if top.HasMate {
		mate := top.MateIn
		res.MateIn = &mate
	}
	for _, s := range suggestions {
		if s.Depth > res.MaxDepth {
			res.MaxDepth = s.Depth
		}
	}
	return res
}

func (h *Handler) callbackFunc(msg *Message, client Client) requestqueue.CallbackFunc {
	return func(result any, err error) {
		if !client.Open() {
			return
		}
		if err != nil {
			h.log.Warn("suggestion failed", "user", client.UserID(), "request", msg.RequestID, "error", err)
			h.sendError(client, msg.RequestID, "suggestion failed")
			return
		}
		if err := client.Send(result); err != nil {
			h.log.Warn("suggestion result write failed", "user", client.UserID(), "error", err)
		}
	}
}

func (h *Handler) sendError(client Client, requestID, reason string) {
	if !client.Open() {
		return
	}
	_ = client.Send(errorFrame{Type: errorType, RequestID: requestID, Error: reason})
}
