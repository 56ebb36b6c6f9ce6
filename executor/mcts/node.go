// Package mcts is a policy/value guided Monte Carlo Tree Search over a
// single-agent transition system.
//
// Nodes are stored in an arena owned by a Table and are addressed by NodeID.
// The Table doubles as the transposition table: two paths reaching states
// with the same key share one node, so the search graph is a DAG (with
// cycles when the transition system has them) rather than a tree.
//
// Nothing in this package is safe for concurrent use. Run one Agent per
// goroutine and share the Predictor instead.
package mcts

import (
	"fmt"
	"math"
)

// State is an immutable position of the transition system.
type State interface {
	// Next returns the state reached by taking action. It must not modify
	// the receiver.
	Next(action int) State
	// Done reports whether the state is terminal (the goal).
	Done() bool
	// Key is the canonical identity of the state. Equal keys mean equal
	// states.
	Key() []byte
	// Features is the fixed-size encoding handed to the Predictor.
	Features() []float32
}

// Predictor evaluates a non-terminal state. The policy must have exactly one
// entry per action and sum to 1.
type Predictor interface {
	Predict(features []float32) (policy []float32, value float32, err error)
}

// NodeID is a handle into a Table.
type NodeID int32

// NoNode marks a child slot that has not been resolved yet.
const NoNode NodeID = -1

// Node is the search statistics for one distinct state.
//
// Terminal nodes carry no statistics: all slices are nil and Value is zero.
// For non-terminal nodes TotalVisits == sum(VisitCounts), and
// MeanActionValues[a] == TotalActionValues[a] / VisitCounts[a] whenever
// VisitCounts[a] > 0.
type Node struct {
	Key      string
	State    State
	Terminal bool
	Visited  bool

	Value    float64
	RawPrior []float64
	// Prior is RawPrior, or RawPrior mixed with root noise while the node is
	// (or was) the root.
	Prior []float64

	TotalVisits       int
	VisitCounts       []int
	TotalActionValues []float64
	MeanActionValues  []float64
	Children          []NodeID
}

func (n *Node) clone() Node {
	out := *n
	out.RawPrior = cloneSlice(n.RawPrior)
	out.Prior = cloneSlice(n.Prior)
	out.VisitCounts = cloneSlice(n.VisitCounts)
	out.TotalActionValues = cloneSlice(n.TotalActionValues)
	out.MeanActionValues = cloneSlice(n.MeanActionValues)
	out.Children = cloneSlice(n.Children)
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Config holds MCTS configuration.
type Config struct {
	// Actions is the size of the action space.
	Actions int
	// MaxDepth bounds the number of actions taken by one simulation.
	MaxDepth int
	Cpuct    float64
	// Gamma discounts a value once per edge on the way back up.
	Gamma float64
	// NoiseWeight and DirichletAlpha control the root noise mix
	// Prior = (1-w)*RawPrior + w*Dir(alpha).
	NoiseWeight    float64
	DirichletAlpha float64
	// MaxDepthValue is the leaf value of a simulation that runs out of depth.
	MaxDepthValue float64
	// PruneOnAdvance compacts the table after every root advance. Do not
	// enable it when several agents share one table.
	PruneOnAdvance bool
}

// DefaultConfig returns the settings used for cube self-play.
func DefaultConfig() Config {
	return Config{
		Actions:        12,
		MaxDepth:       900,
		Cpuct:          1,
		Gamma:          0.95,
		NoiseWeight:    0.25,
		DirichletAlpha: 0.5,
		MaxDepthValue:  0,
	}
}

// Validate reports the first impossible setting.
func (c Config) Validate() error {
	switch {
	case c.Actions < 1:
		return fmt.Errorf("%w: actions must be >= 1, got %d", ErrInvalidConfig, c.Actions)
	case c.MaxDepth < 0:
		return fmt.Errorf("%w: max depth must be >= 0, got %d", ErrInvalidConfig, c.MaxDepth)
	case c.Cpuct < 0 || math.IsNaN(c.Cpuct):
		return fmt.Errorf("%w: cpuct must be >= 0, got %v", ErrInvalidConfig, c.Cpuct)
	case !(c.Gamma > 0 && c.Gamma <= 1):
		return fmt.Errorf("%w: gamma must be in (0, 1], got %v", ErrInvalidConfig, c.Gamma)
	case !(c.NoiseWeight >= 0 && c.NoiseWeight <= 1):
		return fmt.Errorf("%w: noise weight must be in [0, 1], got %v", ErrInvalidConfig, c.NoiseWeight)
	case c.NoiseWeight > 0 && !(c.DirichletAlpha > 0):
		return fmt.Errorf("%w: dirichlet alpha must be > 0, got %v", ErrInvalidConfig, c.DirichletAlpha)
	}
	return nil
}
