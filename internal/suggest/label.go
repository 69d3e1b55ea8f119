package suggest

import "github.com/chessmate/backend/internal/uci"

// Suggestion is one labeled candidate line.
type Suggestion struct {
	uci.Candidate
	Label string `json:"label"`
}

// Labeler assigns a quality label to each candidate line. The slice is
// ordered by the engine's multipv ranking, best first.
type Labeler interface {
	Label(candidates []uci.Candidate) []Suggestion
}

// EvalGapLabeler grades alternatives by their centipawn gap to the top
// line, measured from the perspective implied by the scores themselves
// (all candidates share one position, so the gap is sign-free).
type EvalGapLabeler struct{}

func (EvalGapLabeler) Label(candidates []uci.Candidate) []Suggestion {
	out := make([]Suggestion, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, Suggestion{Candidate: c, Label: gapLabel(candidates[0], c, i)})
	}
	return out
}

func gapLabel(best, c uci.Candidate, rank int) string {
	if c.HasMate && c.MateIn != 0 {
		return "mate"
	}
	if rank == 0 {
		return "best"
	}
	gap := best.Eval - c.Eval
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= 25:
		return "excellent"
	case gap <= 60:
		return "good"
	default:
		return "alternative"
	}
}
