// Package suggest serves move-suggestion requests: it validates the
// inbound frame, builds the per-request UCI option bag and search
// limits, and shapes the engine's candidate lines into a labeled
// suggestion artifact.
package suggest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/chessmate/backend/internal/uci"
)

const (
	defaultElo   = 1500
	defaultNodes = 1_000_000

	minNodes = 100_000
	maxNodes = 5_000_000

	minDepth = 1
	maxDepth = 30

	minMovetime = 500 * time.Millisecond
	maxMovetime = 5 * time.Second

	minMultiPV = 1
	maxMultiPV = 3
)

// strengthLimited reports whether UCI_Elo limiting applies to this
// request. Puzzle mode always plays full strength.
func strengthLimited(msg *Message) bool {
	if msg.PuzzleMode {
		return false
	}
	if msg.LimitStrength != nil {
		return *msg.LimitStrength
	}
	return true
}

// optionBag builds the setoption list for one request. MultiPV is
// always set; personality knobs only when the client supplied them.
func optionBag(msg *Message, kind uci.Kind) []uci.Option {
	opts := []uci.Option{
		{Name: "MultiPV", Value: strconv.Itoa(multiPV(msg))},
	}

	if msg.Personality != "" {
		opts = append(opts, uci.Option{Name: "Personality", Value: msg.Personality})
	}
	if msg.Contempt != nil {
		opts = append(opts, uci.Option{Name: "Contempt", Value: strconv.Itoa(*msg.Contempt)})
	}
	if msg.Variety != nil {
		opts = append(opts, uci.Option{Name: "Variety", Value: strconv.Itoa(*msg.Variety)})
	}
	if msg.Armageddon != "" && msg.Armageddon != "off" {
		opts = append(opts, uci.Option{Name: "Armageddon", Value: msg.Armageddon})
	}

	if strengthLimited(msg) {
		lo, hi := uci.EloRange(kind)
		elo := defaultElo
		if msg.TargetElo != nil {
			elo = *msg.TargetElo
		}
		opts = append(opts,
			uci.Option{Name: "UCI_LimitStrength", Value: "true"},
			uci.Option{Name: "UCI_Elo", Value: strconv.Itoa(clampInt(elo, lo, hi))},
		)
	} else {
		opts = append(opts, uci.Option{Name: "UCI_LimitStrength", Value: "false"})
	}

	return opts
}

// searchLimits picks the go-command budget. A client-chosen search mode
// is honored only at full strength; limited-strength searches always use
// the default node budget so UCI_Elo stays meaningful.
func searchLimits(msg *Message) uci.Limits {
	if strengthLimited(msg) {
		return uci.Limits{Nodes: defaultNodes}
	}
	switch msg.SearchMode {
	case "":
		// No explicit mode: full strength gets the default node budget.
		return uci.Limits{Nodes: defaultNodes}
	case "depth":
		return uci.Limits{Depth: clampInt(msg.SearchDepth, minDepth, maxDepth)}
	case "movetime":
		ms := time.Duration(msg.SearchMovetime) * time.Millisecond
		return uci.Limits{MoveTime: clampDuration(ms, minMovetime, maxMovetime)}
	case "nodes":
		return uci.Limits{Nodes: clampInt64(msg.SearchNodes, minNodes, maxNodes)}
	default:
		// validate rejects anything else before the request is enqueued.
		return uci.Limits{Nodes: defaultNodes}
	}
}

func multiPV(msg *Message) int {
	if msg.MultiPV == 0 {
		return minMultiPV
	}
	return clampInt(msg.MultiPV, minMultiPV, maxMultiPV)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validateEnum(name, v string, allowed ...string) error {
	if v == "" {
		return nil
	}
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v", name, allowed)
}
