package uci

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Candidate is one engine line (one multipv slot) after score shaping.
// Evaluations are from the side-to-move's perspective until normalized
// by Search; see normalizeToWhite.
type Candidate struct {
	Move    string   `json:"move"`
	PV      []string `json:"pv"`
	MultiPV int      `json:"multiPv"`
	Depth   int      `json:"depth"`
	Eval    int      `json:"eval"` // centipawns
	MateIn  int      `json:"mateIn,omitempty"`
	HasMate bool     `json:"-"`
	WinPct  float64  `json:"winPct"`
	DrawPct float64  `json:"drawPct"`
	LossPct float64  `json:"lossPct"`
}

// Mate scores are reported as a saturated centipawn evaluation.
const mateEval = 10000

// parseInfoLine extracts one candidate from a UCI "info" line. Lines
// without both a score and a pv (depth announcements, "info string",
// currmove traffic) yield ok=false.
func parseInfoLine(line string) (Candidate, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "info" {
		return Candidate{}, false
	}

	c := Candidate{MultiPV: 1}
	var (
		hasScore bool
		cp       int
		wdl      [3]int
		hasWDL   bool
	)

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "multipv":
			if i+1 < len(fields) {
				c.MultiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "depth":
			if i+1 < len(fields) {
				c.Depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "score":
			if i+2 < len(fields) {
				v, err := strconv.Atoi(fields[i+2])
				if err != nil {
					continue
				}
				switch fields[i+1] {
				case "cp":
					cp = v
					hasScore = true
				case "mate":
					c.MateIn = v
					c.HasMate = true
					hasScore = true
				}
				i += 2
			}
		case "wdl":
			if i+3 < len(fields) {
				wdl[0], _ = strconv.Atoi(fields[i+1])
				wdl[1], _ = strconv.Atoi(fields[i+2])
				wdl[2], _ = strconv.Atoi(fields[i+3])
				hasWDL = true
				i += 3
			}
		case "pv":
			c.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}

	if !hasScore || len(c.PV) == 0 {
		return Candidate{}, false
	}
	c.Move = c.PV[0]

	switch {
	case c.HasMate:
		// Mating side gets a saturated eval and certain win probability.
		if c.MateIn >= 0 {
			c.Eval = mateEval
			c.WinPct, c.DrawPct, c.LossPct = 100, 0, 0
		} else {
			c.Eval = -mateEval
			c.WinPct, c.DrawPct, c.LossPct = 0, 0, 100
		}
	case hasWDL:
		c.Eval = cp
		// wdl is reported in per-mille.
		c.WinPct = float64(wdl[0]) / 10
		c.DrawPct = float64(wdl[1]) / 10
		c.LossPct = float64(wdl[2]) / 10
	default:
		c.Eval = cp
		c.WinPct = winPctFromCP(cp)
		c.DrawPct = 0
		c.LossPct = 100 - c.WinPct
	}

	return c, true
}

// winPctFromCP approximates a win probability from a centipawn score
// with the conventional logistic model.
func winPctFromCP(cp int) float64 {
	return 50 + 50*(2/(1+math.Exp(-float64(cp)/400))-1)
}

// normalizeToWhite flips a side-to-move-relative candidate into white's
// perspective. A no-op when white is to move.
func normalizeToWhite(c Candidate, blackToMove bool) Candidate {
	if !blackToMove {
		return c
	}
	c.Eval = -c.Eval
	c.MateIn = -c.MateIn
	c.WinPct, c.LossPct = c.LossPct, c.WinPct
	return c
}

// blackToMove reads the active-color field of a FEN string.
func blackToMove(fen string) bool {
	fields := strings.Fields(fen)
	return len(fields) > 1 && fields[1] == "b"
}

// ValidateFEN checks basic well-formedness: space-separated with at
// least four fields and a board of eight slash-separated ranks. Full
// legality checking is the engine's job.
func ValidateFEN(fen string) error {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fmt.Errorf("uci: FEN needs at least 4 fields, got %d", len(fields))
	}
	if ranks := strings.Split(fields[0], "/"); len(ranks) != 8 {
		return fmt.Errorf("uci: FEN board needs 8 ranks, got %d", len(ranks))
	}
	return nil
}
