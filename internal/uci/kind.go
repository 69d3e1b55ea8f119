// Package uci drives external UCI chess-engine subprocesses: spawning,
// the uci/isready handshake, per-request option configuration, and
// search with line-oriented response parsing.
package uci

import "fmt"

// Kind selects which external engine binary and option set a process uses.
type Kind int

const (
	// KindSuggestion is the personality-capable engine used for move suggestions.
	KindSuggestion Kind = iota
	// KindAnalysis is the full-strength engine used for move analyses.
	KindAnalysis
)

func (k Kind) String() string {
	switch k {
	case KindSuggestion:
		return "suggestion"
	case KindAnalysis:
		return "analysis"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EloRange returns the UCI_Elo interval advertised by the engine of the
// given kind. UCI_Elo values sent to the engine must be clamped into it.
func EloRange(k Kind) (min, max int) {
	switch k {
	case KindSuggestion:
		return 250, 3200
	default:
		return 1320, 3190
	}
}
