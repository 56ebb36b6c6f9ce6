package mcts

import (
	"cmp"
	"fmt"
	"math"
)

// Agent owns a root in a Table and searches from it.
type Agent struct {
	cfg       Config
	table     *Table
	predictor Predictor
	noise     NoiseSource

	root NodeID
	// shortest is the fewest actions to a terminal seen since the root was
	// set. MaxDepth+1 means none was found.
	shortest int

	steps       int
	simulations int
	path        []step
}

// NewAgent evaluates the initial state and makes it the root. A nil table
// gives the agent a private one; pass a shared or cloned table to reuse
// statistics. A nil noise source uses Dirichlet noise seeded from the clock.
//
// The predictor is called once unless the state is terminal or already in
// the table.
func NewAgent(cfg Config, table *Table, predictor Predictor, noise NoiseSource, state State) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if predictor == nil {
		return nil, fmt.Errorf("%w: nil predictor", ErrInvalidConfig)
	}
	if table == nil {
		table = NewTable()
	}
	if noise == nil {
		noise = NewDirichletNoise(cfg.DirichletAlpha, 0)
	}

	a := &Agent{
		cfg:       cfg,
		table:     table,
		predictor: predictor,
		noise:     noise,
		path:      make([]step, 0, cfg.MaxDepth),
	}
	root, err := a.resolve(state)
	if err != nil {
		return nil, fmt.Errorf("mcts: evaluate root: %w", err)
	}
	if err := a.setRoot(root); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) setRoot(id NodeID) error {
	a.root = id
	a.shortest = a.cfg.MaxDepth + 1
	return a.applyNoise(a.table.Node(id))
}

func (a *Agent) applyNoise(n *Node) error {
	if n.Terminal {
		return nil
	}
	w := a.cfg.NoiseWeight
	if w == 0 {
		copy(n.Prior, n.RawPrior)
		return nil
	}
	noise := a.noise.Sample(len(n.RawPrior))
	if len(noise) != len(n.RawPrior) {
		return fmt.Errorf("mcts: noise source returned %d values, want %d", len(noise), len(n.RawPrior))
	}
	for i, p := range n.RawPrior {
		n.Prior[i] = (1-w)*p + w*noise[i]
	}
	return nil
}

// AdvanceToAction moves the root to its successor under action, keeping all
// statistics gathered below it. The new root gets fresh noise and the
// shortest path tracker is reset.
func (a *Agent) AdvanceToAction(action int) error {
	if action < 0 || action >= a.cfg.Actions {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidAction, action, a.cfg.Actions)
	}
	if a.IsTerminal() {
		return ErrTerminalRoot
	}
	child, err := a.child(a.root, action)
	if err != nil {
		return fmt.Errorf("mcts: advance: %w", err)
	}
	if err := a.setRoot(child); err != nil {
		return err
	}
	a.steps++
	if a.cfg.PruneOnAdvance {
		a.Prune()
	}
	return nil
}

// AdvanceToBestChild advances along the most visited root action and returns
// it. Ties go to the lowest action.
func (a *Agent) AdvanceToBestChild() (int, error) {
	n := a.table.Node(a.root)
	if n.Terminal {
		return -1, ErrTerminalRoot
	}
	best := Argmax(n.VisitCounts)
	return best, a.AdvanceToAction(best)
}

// ActionDistribution turns root visit counts into a distribution. With
// invTemp == 1 it is the normalized visit counts, otherwise each normalized
// count is raised to invTemp before renormalizing.
func (a *Agent) ActionDistribution(invTemp float64) ([]float64, error) {
	if !(invTemp > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTemperature, invTemp)
	}
	n := a.table.Node(a.root)
	if n.Terminal || !n.Visited || n.TotalVisits == 0 {
		return nil, ErrEmptyDistribution
	}

	out := make([]float64, len(n.VisitCounts))
	total := float64(n.TotalVisits)
	if invTemp == 1 {
		for i, v := range n.VisitCounts {
			out[i] = float64(v) / total
		}
		return out, nil
	}

	var sum float64
	for i, v := range n.VisitCounts {
		out[i] = math.Pow(float64(v)/total, invTemp)
		sum += out[i]
	}
	if sum == 0 || math.IsInf(sum, 0) {
		// Every term under- or overflowed; the limit is the argmax.
		best := Argmax(n.VisitCounts)
		for i := range out {
			out[i] = 0
		}
		out[best] = 1
		return out, nil
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// Argmax returns the first index of the largest value, or 0 for an empty
// slice.
func Argmax[T cmp.Ordered](xs []T) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// Prune drops every node not reachable from the root through resolved child
// links and returns how many were dropped. Handles held by other agents
// sharing the table become invalid.
func (a *Agent) Prune() int {
	root, dropped := a.table.compact(a.root)
	a.root = root
	return dropped
}

// IsTerminal reports whether the root state is terminal.
func (a *Agent) IsTerminal() bool { return a.table.Node(a.root).Terminal }

// ShortestPath is the fewest actions from the root to a terminal state seen
// by any simulation since the root was set, or -1 if none was found within
// MaxDepth.
func (a *Agent) ShortestPath() int {
	if a.shortest > a.cfg.MaxDepth {
		return -1
	}
	return a.shortest
}

// Steps is the number of root advances.
func (a *Agent) Steps() int { return a.steps }

// Simulations is the number of completed simulations over the agent's life.
func (a *Agent) Simulations() int { return a.simulations }

// Root returns the handle of the current root.
func (a *Agent) Root() NodeID { return a.root }

// RootState returns the state at the current root.
func (a *Agent) RootState() State { return a.table.Node(a.root).State }

func (a *Agent) Table() *Table { return a.table }

func (a *Agent) Config() Config { return a.cfg }

// RootStats is a copy of the root statistics.
type RootStats struct {
	ShortestPath      int
	Terminal          bool
	Value             float64
	RawPrior          []float64
	Prior             []float64
	TotalVisits       int
	VisitCounts       []int
	TotalActionValues []float64
	MeanActionValues  []float64
	Steps             int
	Simulations       int
	TableSize         int
}

func (a *Agent) Stats() RootStats {
	n := a.table.Node(a.root)
	return RootStats{
		ShortestPath:      a.ShortestPath(),
		Terminal:          n.Terminal,
		Value:             n.Value,
		RawPrior:          cloneSlice(n.RawPrior),
		Prior:             cloneSlice(n.Prior),
		TotalVisits:       n.TotalVisits,
		VisitCounts:       cloneSlice(n.VisitCounts),
		TotalActionValues: cloneSlice(n.TotalActionValues),
		MeanActionValues:  cloneSlice(n.MeanActionValues),
		Steps:             a.steps,
		Simulations:       a.simulations,
		TableSize:         a.table.Len(),
	}
}

// Stat looks up a single root statistic by name: shortest_path, prior,
// prior_dirichlet, value, visit_counts or total_action_values.
func (a *Agent) Stat(name string) (any, error) {
	s := a.Stats()
	switch name {
	case "shortest_path":
		return s.ShortestPath, nil
	case "prior":
		return s.RawPrior, nil
	case "prior_dirichlet":
		return s.Prior, nil
	case "value":
		return s.Value, nil
	case "visit_counts":
		return s.VisitCounts, nil
	case "total_action_values":
		return s.TotalActionValues, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStat, name)
}
