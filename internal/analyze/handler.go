package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chessmate/backend/internal/requestqueue"
	"github.com/chessmate/backend/internal/uci"
)

// Analysis searches run at fixed depth with two candidate lines for the
// pre-move position.
const (
	analysisDepth  = 10
	beforeMultiPV  = 2
	afterMultiPV   = 1
	requestTypeErr = "analysis_error"
	requestTypeOK  = "analysis_result"
)

// Client is the slice of a gateway connection the handler needs. The
// gateway owns the connection; handlers must check Open before sending.
type Client interface {
	UserID() string
	Open() bool
	Send(v any) error
}

// Message is an inbound "analyze" frame.
type Message struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId"`
	FENBefore   string `json:"fenBefore"`
	FENAfter    string `json:"fenAfter"`
	Move        string `json:"move"`
	PlayerColor string `json:"playerColor"`
}

// Result is the analysis artifact sent back to the client.
type Result struct {
	Type           string         `json:"type"`
	RequestID      string         `json:"requestId"`
	Move           string         `json:"move"`
	Classification Classification `json:"classification"`
	CentipawnLoss  int            `json:"centipawnLoss"`
	AccuracyImpact float64        `json:"accuracyImpact"`
	Phase          Phase          `json:"phase"`
	WeightedImpact float64        `json:"weightedImpact"`
	EvalBefore     float64        `json:"evalBefore"`
	EvalAfter      float64        `json:"evalAfter"`
	BestMove       string         `json:"bestMove"`
}

type errorFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

// Handler validates analyze frames and enqueues the before/after search
// work item.
type Handler struct {
	queue *requestqueue.Queue
	log   *slog.Logger
}

func NewHandler(q *requestqueue.Queue) *Handler {
	return &Handler{queue: q, log: slog.With("component", "analyze")}
}

// Handle validates the frame; bad input fails synchronously with an
// analysis_error frame and nothing is enqueued.
func (h *Handler) Handle(raw json.RawMessage, client Client) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(client, "", "malformed analyze message")
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
	if err := uci.ValidateFEN(msg.FENBefore); err != nil {
		return fmt.Errorf("fenBefore: %v", err)
	}
	if err := uci.ValidateFEN(msg.FENAfter); err != nil {
		return fmt.Errorf("fenAfter: %v", err)
	}
	if msg.Move == "" {
		return fmt.Errorf("move is required")
	}
	if msg.PlayerColor != "white" && msg.PlayerColor != "black" {
		return fmt.Errorf("playerColor must be white or black")
	}
	return nil
}

func (h *Handler) processFunc(msg *Message) requestqueue.ProcessFunc {
	return func(_ context.Context, e *uci.Engine) (any, error) {
		if err := e.Configure([]uci.Option{{Name: "MultiPV", Value: "2"}}); err != nil {
			return nil, err
		}

		before, err := e.Search(uci.Position{FEN: msg.FENBefore}, beforeMultiPV, uci.Limits{Depth: analysisDepth})
		if err != nil {
			return nil, fmt.Errorf("before search: %w", err)
		}
		after, err := e.Search(uci.Position{FEN: msg.FENAfter}, afterMultiPV, uci.Limits{Depth: analysisDepth})
		if err != nil {
			return nil, fmt.Errorf("after search: %w", err)
		}

		return h.shape(msg, before, after), nil
	}
}

// shape derives the artifact from white-perspective evaluations.
func (h *Handler) shape(msg *Message, before, after []uci.Candidate) *Result {
	bestEval := before[0].Eval
	evalAfter := after[0].Eval

	// Normalize to the player's perspective before measuring the loss.
	sign := 1
	if msg.PlayerColor == "black" {
		sign = -1
	}
	bestPlayer := sign * bestEval
	afterPlayer := sign * evalAfter

	cpl := bestPlayer - afterPlayer
	if cpl < 0 {
		cpl = 0
	}

	phase := DetectPhase(msg.FENBefore)
	impact := AccuracyImpact(cpl)

	return &Result{
		Type:           requestTypeOK,
		RequestID:      msg.RequestID,
		Move:           msg.Move,
		Classification: Classify(cpl),
		CentipawnLoss:  cpl,
		AccuracyImpact: impact,
		Phase:          phase,
		WeightedImpact: round1(impact * phase.Weight()),
		EvalBefore:     float64(bestPlayer) / 100,
		EvalAfter:      float64(afterPlayer) / 100,
		BestMove:       before[0].Move,
	}
}

func (h *Handler) callbackFunc(msg *Message, client Client) requestqueue.CallbackFunc {
	return func(result any, err error) {
		if !client.Open() {
			return
		}
		if err != nil {
			h.log.Warn("analysis failed", "user", client.UserID(), "request", msg.RequestID, "error", err)
			h.sendError(client, msg.RequestID, "analysis failed")
			return
		}
		if err := client.Send(result); err != nil {
			h.log.Warn("analysis result write failed", "user", client.UserID(), "error", err)
		}
	}
}

func (h *Handler) sendError(client Client, requestID, reason string) {
	if !client.Open() {
		return
	}
	_ = client.Send(errorFrame{Type: requestTypeErr, RequestID: requestID, Error: reason})
}
