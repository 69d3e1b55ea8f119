// Package analyze turns a before/after engine comparison of a played
// move into a classification, centipawn loss and accuracy impact.
package analyze

import (
	"encoding/json"
	"math"
	"strings"
)

// Classification grades a played move by centipawn loss.
type Classification int

const (
	Best Classification = iota
	Excellent
	Good
	Inaccuracy
	Mistake
	Blunder
)

var classificationNames = [...]string{"best", "excellent", "good", "inaccuracy", "mistake", "blunder"}

func (c Classification) String() string {
	if c < 0 || int(c) >= len(classificationNames) {
		return "unknown"
	}
	return classificationNames[c]
}

func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Classify maps centipawn loss onto the six-class scale.
func Classify(cpl int) Classification {
	switch {
	case cpl <= 10:
		return Best
	case cpl <= 25:
		return Excellent
	case cpl <= 60:
		return Good
	case cpl <= 120:
		return Inaccuracy
	case cpl <= 250:
		return Mistake
	default:
		return Blunder
	}
}

// Phase tags the stage of the game a position belongs to.
type Phase int

const (
	Opening Phase = iota
	Middlegame
	Endgame
)

var phaseNames = [...]string{"opening", "middlegame", "endgame"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Weight scales accuracy impact by phase: endgame mistakes cost more
// than opening ones.
func (p Phase) Weight() float64 {
	switch p {
	case Opening:
		return 0.7
	case Endgame:
		return 1.3
	default:
		return 1.0
	}
}

// Both sides start with 78 points of non-king material
// (2Q·9 + 4R·5 + 4B·3 + 4N·3 + 16P·1).
const startingMaterial = 78

var pieceValues = map[rune]int{
	'q': 9, 'r': 5, 'b': 3, 'n': 3, 'p': 1,
	'Q': 9, 'R': 5, 'B': 3, 'N': 3, 'P': 1,
}

// DetectPhase counts remaining non-king material on the FEN board and
// buckets it against the starting total.
func DetectPhase(fen string) Phase {
	board := strings.Fields(fen)
	if len(board) == 0 {
		return Middlegame
	}
	material := 0
	for _, r := range board[0] {
		material += pieceValues[r]
	}
	ratio := float64(material) / startingMaterial
	switch {
	case ratio > 0.85:
		return Opening
	case ratio > 0.35:
		return Middlegame
	default:
		return Endgame
	}
}

// AccuracyImpact maps centipawn loss onto a 0–40 scale with a
// saturating exponential, rounded to one decimal.
func AccuracyImpact(cpl int) float64 {
	return round1(40 * (1 - math.Exp(-float64(cpl)/150)))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
