package mcts

import (
	"context"
	"fmt"
	"math"
)

type step struct {
	node   NodeID
	action int
}

// Search runs n simulations from the root. There is no early stopping; ctx is
// only checked between simulations. A failed simulation leaves the statistics
// as they were before it started.
func (a *Agent) Search(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := a.simulate(); err != nil {
			return err
		}
		a.simulations++
	}
	return nil
}

// simulate descends from the root until it reaches a terminal node, an
// unvisited node or the depth limit, then backs the leaf value up the path.
// Visit counts are incremented on the way down.
func (a *Agent) simulate() error {
	a.path = a.path[:0]
	id := a.root
	budget := a.cfg.MaxDepth

	var value float64
	for {
		n := a.table.Node(id)
		if n.Terminal {
			if d := a.cfg.MaxDepth - budget; d < a.shortest {
				a.shortest = d
			}
			value = 1
			break
		}
		if !n.Visited {
			n.Visited = true
			value = n.Value
			break
		}
		if budget == 0 {
			value = a.cfg.MaxDepthValue
			break
		}

		action := a.selectAction(n)
		n.TotalVisits++
		n.VisitCounts[action]++
		a.path = append(a.path, step{node: id, action: action})

		child, err := a.child(id, action)
		if err != nil {
			a.rollback()
			return fmt.Errorf("mcts: simulate: %w", err)
		}
		id = child
		budget--
	}

	for i := len(a.path) - 1; i >= 0; i-- {
		st := a.path[i]
		n := a.table.Node(st.node)
		value *= a.cfg.Gamma
		n.TotalActionValues[st.action] += value
		n.MeanActionValues[st.action] = n.TotalActionValues[st.action] / float64(n.VisitCounts[st.action])
	}
	return nil
}

func (a *Agent) rollback() {
	for _, st := range a.path {
		n := a.table.Node(st.node)
		n.TotalVisits--
		n.VisitCounts[st.action]--
	}
	a.path = a.path[:0]
}

// selectAction is the PUCT argmax. The exploration term is scaled by the
// node's own value estimate. Ties go to the lowest action.
func (a *Agent) selectAction(n *Node) int {
	sqrtTotal := math.Sqrt(float64(n.TotalVisits))
	best, bestScore := 0, math.Inf(-1)
	for i := range n.Prior {
		if s := score(n, i, a.cfg.Cpuct, sqrtTotal); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func score(n *Node, action int, cpuct, sqrtTotal float64) float64 {
	return n.MeanActionValues[action] + bonus(n, action, cpuct, sqrtTotal)
}

func bonus(n *Node, action int, cpuct, sqrtTotal float64) float64 {
	return n.Value * cpuct * sqrtTotal * n.Prior[action] / (1 + float64(n.VisitCounts[action]))
}

// child resolves the successor of id under action: the cached link, then the
// transposition table, then a freshly evaluated node.
func (a *Agent) child(id NodeID, action int) (NodeID, error) {
	if c := a.table.Node(id).Children[action]; c != NoNode {
		return c, nil
	}
	next := a.table.Node(id).State.Next(action)
	c, err := a.resolve(next)
	if err != nil {
		return NoNode, err
	}
	a.table.Node(id).Children[action] = c
	return c, nil
}

// resolve returns the node for s, evaluating and inserting it if the table
// has none. A node whose evaluation fails is not inserted.
func (a *Agent) resolve(s State) (NodeID, error) {
	key := s.Key()
	if id, ok := a.table.Lookup(key); ok {
		return id, nil
	}
	n, err := a.evaluate(s, key)
	if err != nil {
		return NoNode, err
	}
	return a.table.insert(n), nil
}

func (a *Agent) evaluate(s State, key []byte) (Node, error) {
	n := Node{Key: string(key), State: s}
	if s.Done() {
		n.Terminal = true
		return n, nil
	}

	policy, value, err := a.predictor.Predict(s.Features())
	if err != nil {
		return Node{}, fmt.Errorf("predict: %w", err)
	}
	if len(policy) != a.cfg.Actions {
		return Node{}, fmt.Errorf("%w: %d entries, want %d", ErrInvalidPolicy, len(policy), a.cfg.Actions)
	}

	n.Value = float64(value)
	n.RawPrior = make([]float64, a.cfg.Actions)
	for i, p := range policy {
		n.RawPrior[i] = float64(p)
	}
	n.Prior = cloneSlice(n.RawPrior)
	n.VisitCounts = make([]int, a.cfg.Actions)
	n.TotalActionValues = make([]float64, a.cfg.Actions)
	n.MeanActionValues = make([]float64, a.cfg.Actions)
	n.Children = make([]NodeID, a.cfg.Actions)
	for i := range n.Children {
		n.Children[i] = NoNode
	}
	return n, nil
}
