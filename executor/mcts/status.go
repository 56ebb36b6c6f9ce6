package mcts

import (
	"fmt"
	"math"
	"strings"
)

var probGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// ProbBox renders each probability as one block glyph, scaled so 1 is a full
// block.
func ProbBox(probs []float64) string {
	var sb strings.Builder
	top := len(probGlyphs) - 1
	for _, p := range probs {
		i := int(math.Round(p * float64(top)))
		if i < 0 || math.IsNaN(p) {
			i = 0
		}
		if i > top {
			i = top
		}
		sb.WriteRune(probGlyphs[i])
	}
	return sb.String()
}

// Status is a human readable dump of the root: one row per action with the
// prior before and after noise, the exploration bonus, visits and values,
// followed by probability bars for the priors and the visit distribution.
// actionNames may be nil.
func (a *Agent) Status(actionNames []string) string {
	n := a.table.Node(a.root)
	var sb strings.Builder
	fmt.Fprintf(&sb, "root: terminal=%v value=%.4f visits=%d shortest_path=%d steps=%d sims=%d table=%d\n",
		n.Terminal, n.Value, n.TotalVisits, a.ShortestPath(), a.steps, a.simulations, a.table.Len())
	if n.Terminal {
		return sb.String()
	}

	name := func(i int) string {
		if i < len(actionNames) {
			return actionNames[i]
		}
		return fmt.Sprint(i)
	}

	sqrtTotal := math.Sqrt(float64(n.TotalVisits))
	fmt.Fprintf(&sb, "%-6s %8s %8s %8s %7s %10s %8s\n", "action", "prior", "noised", "bonus", "visits", "total", "mean")
	for i := range n.Prior {
		fmt.Fprintf(&sb, "%-6s %8.4f %8.4f %8.4f %7d %10.4f %8.4f\n",
			name(i), n.RawPrior[i], n.Prior[i], bonus(n, i, a.cfg.Cpuct, sqrtTotal),
			n.VisitCounts[i], n.TotalActionValues[i], n.MeanActionValues[i])
	}

	fmt.Fprintf(&sb, "prior   [%s]\n", ProbBox(n.RawPrior))
	fmt.Fprintf(&sb, "noised  [%s]\n", ProbBox(n.Prior))
	if dist, err := a.ActionDistribution(1); err == nil {
		fmt.Fprintf(&sb, "visits  [%s]\n", ProbBox(dist))
	}
	return sb.String()
}
