package mcts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graph is a small deterministic transition system with three actions.
// States not listed loop back to themselves on every action.
var graph = map[string][3]string{
	"start": {"a", "b", "c"},
	"a":     {"a0", "goal", "start"},
	"b":     {"b0", "b1", "start"},
	"c":     {"c0", "c1", "start"},

	"top":   {"left", "right", "top"},
	"left":  {"bottom", "left", "left"},
	"right": {"bottom", "right", "right"},
}

var names = []string{"start", "a", "b", "c", "a0", "b0", "b1", "c0", "c1", "goal", "top", "left", "right", "bottom"}

type graphState string

func (s graphState) Next(action int) State {
	if next, ok := graph[string(s)]; ok {
		return graphState(next[action])
	}
	return s
}

func (s graphState) Done() bool { return s == "goal" }

func (s graphState) Key() []byte { return []byte(s) }

func (s graphState) Features() []float32 {
	for i, n := range names {
		if n == string(s) {
			return []float32{float32(i)}
		}
	}
	return []float32{-1}
}

func nameOf(features []float32) string { return names[int(features[0])] }

// mockPredictor returns a fixed policy and value and counts calls. States in
// fail make Predict return errBoom.
type mockPredictor struct {
	policy []float32
	value  float32
	fail   map[string]bool
	calls  int
}

var errBoom = errors.New("boom")

func newMockPredictor() *mockPredictor {
	return &mockPredictor{policy: []float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, value: 0.01}
}

func (m *mockPredictor) Predict(features []float32) ([]float32, float32, error) {
	m.calls++
	if m.fail[nameOf(features)] {
		return nil, 0, errBoom
	}
	out := make([]float32, len(m.policy))
	copy(out, m.policy)
	return out, m.value, nil
}

type fixedNoise []float64

func (f fixedNoise) Sample(n int) []float64 { return append([]float64(nil), f[:n]...) }

func testConfig(maxDepth int) Config {
	cfg := DefaultConfig()
	cfg.Actions = 3
	cfg.MaxDepth = maxDepth
	cfg.NoiseWeight = 0
	return cfg
}

func newTestAgent(t testing.TB, cfg Config, p Predictor, s State) *Agent {
	t.Helper()
	a, err := NewAgent(cfg, nil, p, nil, s)
	require.NoError(t, err)
	return a
}

func checkInvariants(t *testing.T, tbl *Table) {
	t.Helper()
	for i := 0; i < tbl.Len(); i++ {
		n := tbl.Node(NodeID(i))
		if n.Terminal {
			assert.Nil(t, n.VisitCounts, n.Key)
			assert.Zero(t, n.TotalVisits, n.Key)
			continue
		}
		sum := 0
		for a, v := range n.VisitCounts {
			sum += v
			if v > 0 {
				assert.Equal(t, n.TotalActionValues[a]/float64(v), n.MeanActionValues[a], "%s action %d", n.Key, a)
			}
		}
		assert.Equal(t, sum, n.TotalVisits, n.Key)
	}
}

func TestSearchFindsGoal(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("start"))

	require.NoError(t, a.Search(context.Background(), 1000))

	dist, err := a.ActionDistribution(1)
	require.NoError(t, err)
	assert.Greater(t, dist[0], dist[1])
	assert.Greater(t, dist[0], dist[2])
	assert.InDelta(t, 1.0, dist[0]+dist[1]+dist[2], 1e-9)
	assert.Equal(t, 2, a.ShortestPath())
	assert.Equal(t, 1000, a.Simulations())

	// The first simulation only marks the root visited.
	assert.Equal(t, 999, a.Stats().TotalVisits)
	checkInvariants(t, a.Table())
}

func TestActionDistributionTemperature(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	require.NoError(t, a.Search(context.Background(), 200))

	flat, err := a.ActionDistribution(1)
	require.NoError(t, err)
	sharp, err := a.ActionDistribution(10)
	require.NoError(t, err)

	var sum float64
	for _, p := range sharp {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.GreaterOrEqual(t, sharp[0], flat[0])

	_, err = a.ActionDistribution(0)
	assert.ErrorIs(t, err, ErrInvalidTemperature)
	_, err = a.ActionDistribution(-1)
	assert.ErrorIs(t, err, ErrInvalidTemperature)
}

func TestActionDistributionEmpty(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	_, err := a.ActionDistribution(1)
	assert.ErrorIs(t, err, ErrEmptyDistribution, "unvisited root")

	require.NoError(t, a.Search(context.Background(), 1))
	_, err = a.ActionDistribution(1)
	assert.ErrorIs(t, err, ErrEmptyDistribution, "root visited once has no action visits")
}

func TestChildIsIdempotent(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	require.Equal(t, 1, p.calls)

	first, err := a.child(a.Root(), 1)
	require.NoError(t, err)
	second, err := a.child(a.Root(), 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 2, a.Table().Len())
	id, ok := a.Table().Lookup([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, first, id)
}

func TestTranspositionsShareNodes(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(4), p, graphState("top"))

	left, err := a.child(a.Root(), 0)
	require.NoError(t, err)
	right, err := a.child(a.Root(), 1)
	require.NoError(t, err)
	viaLeft, err := a.child(left, 0)
	require.NoError(t, err)
	viaRight, err := a.child(right, 0)
	require.NoError(t, err)

	assert.Equal(t, viaLeft, viaRight)
	assert.Equal(t, 4, p.calls, "bottom is evaluated once")
	assert.Equal(t, 4, a.Table().Len())

	require.NoError(t, a.Search(context.Background(), 300))
	l := a.Table().Node(left)
	r := a.Table().Node(right)
	// Visits to bottom through either parent land on the same statistics.
	assert.Equal(t, viaLeft, l.Children[0])
	assert.Equal(t, viaLeft, r.Children[0])
	assert.Positive(t, l.VisitCounts[0])
	assert.Positive(t, r.VisitCounts[0])
	checkInvariants(t, a.Table())
}

func TestTranspositionBackupVisibleFromOtherParent(t *testing.T) {
	ctx := context.Background()
	p := newMockPredictor()
	tbl := NewTable()

	fromLeft, err := NewAgent(testConfig(4), tbl, p, nil, graphState("left"))
	require.NoError(t, err)
	require.NoError(t, fromLeft.Search(ctx, 30))

	bottom, ok := tbl.Lookup([]byte("bottom"))
	require.True(t, ok)
	afterLeft := tbl.Node(bottom).TotalVisits
	require.Positive(t, afterLeft)

	fromRight, err := NewAgent(testConfig(4), tbl, p, nil, graphState("right"))
	require.NoError(t, err)
	calls := p.calls
	require.NoError(t, fromRight.Search(ctx, 30))

	right := fromRight.Root()
	assert.Equal(t, bottom, tbl.Node(right).Children[0])
	assert.Positive(t, tbl.Node(right).VisitCounts[0])
	assert.Greater(t, tbl.Node(bottom).TotalVisits, afterLeft)
	assert.Equal(t, calls, p.calls, "bottom is not evaluated again")
	checkInvariants(t, tbl)
}

func TestDepthLimitDoesNotMutateLeaf(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(1), p, graphState("start"))
	ctx := context.Background()

	require.NoError(t, a.Search(ctx, 2))
	aID, ok := a.Table().Lookup([]byte("a"))
	require.True(t, ok)
	before := a.Table().Node(aID).clone()
	require.True(t, before.Visited)

	require.NoError(t, a.Search(ctx, 1))
	after := a.Table().Node(aID)
	assert.Equal(t, before, *after)
	assert.Equal(t, 2, p.calls)

	root := a.Table().Node(a.Root())
	assert.Equal(t, 2, root.VisitCounts[0])
	assert.InDelta(t, 0.01*0.95, root.TotalActionValues[0], 1e-7)
	assert.InDelta(t, 0.01*0.95/2, root.MeanActionValues[0], 1e-7)
	assert.Equal(t, -1, a.ShortestPath())
	checkInvariants(t, a.Table())
}

func TestZeroDepth(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(0), p, graphState("start"))
	require.NoError(t, a.Search(context.Background(), 10))

	assert.Equal(t, 1, a.Table().Len())
	assert.Equal(t, 1, p.calls)
	assert.Zero(t, a.Stats().TotalVisits)
	_, err := a.ActionDistribution(1)
	assert.ErrorIs(t, err, ErrEmptyDistribution)
}

func TestRootNoise(t *testing.T) {
	p := newMockPredictor()
	p.policy = []float32{0.2, 0.3, 0.5}
	cfg := testConfig(3)
	cfg.NoiseWeight = 0.25

	a, err := NewAgent(cfg, nil, p, fixedNoise{0.5, 0.25, 0.25}, graphState("start"))
	require.NoError(t, err)

	s := a.Stats()
	assert.InDeltaSlice(t, []float64{0.2, 0.3, 0.5}, s.RawPrior, 1e-6)
	assert.InDeltaSlice(t, []float64{0.275, 0.2875, 0.4375}, s.Prior, 1e-6)

	raw, err := a.Stat("prior")
	require.NoError(t, err)
	assert.Equal(t, s.RawPrior, raw)
	noised, err := a.Stat("prior_dirichlet")
	require.NoError(t, err)
	assert.Equal(t, s.Prior, noised)

	// Advancing noises the new root from its raw prior without another
	// oracle call for it.
	_, err = a.child(a.Root(), 0)
	require.NoError(t, err)
	calls := p.calls
	require.NoError(t, a.AdvanceToAction(0))
	assert.Equal(t, calls, p.calls)
	assert.InDeltaSlice(t, []float64{0.275, 0.2875, 0.4375}, a.Stats().Prior, 1e-6)
}

func TestTerminalRoot(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("goal"))

	assert.True(t, a.IsTerminal())
	assert.Zero(t, p.calls)
	assert.Equal(t, -1, a.ShortestPath())

	require.NoError(t, a.Search(context.Background(), 10))
	assert.Zero(t, p.calls)
	assert.Equal(t, 0, a.ShortestPath())

	_, err := a.ActionDistribution(1)
	assert.ErrorIs(t, err, ErrEmptyDistribution)
	_, err = a.AdvanceToBestChild()
	assert.ErrorIs(t, err, ErrTerminalRoot)
	assert.ErrorIs(t, a.AdvanceToAction(0), ErrTerminalRoot)
	assert.True(t, a.Stats().Terminal)
}

func TestOracleFailureRollsBack(t *testing.T) {
	p := newMockPredictor()
	p.fail = map[string]bool{"a": true}
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	ctx := context.Background()

	err := a.Search(ctx, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, 1, a.Table().Len())
	root := a.Table().Node(a.Root())
	assert.Zero(t, root.TotalVisits)
	assert.Equal(t, []int{0, 0, 0}, root.VisitCounts)
	assert.Equal(t, NoNode, root.Children[0])
	assert.Equal(t, 1, a.Simulations())
	checkInvariants(t, a.Table())

	// The failure is not sticky.
	p.fail = nil
	require.NoError(t, a.Search(ctx, 50))
	checkInvariants(t, a.Table())
}

func TestOracleFailureDeepInPath(t *testing.T) {
	p := newMockPredictor()
	p.fail = map[string]bool{"a0": true}
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	ctx := context.Background()

	// Root visit, then a is evaluated, then the descent through a to a0 fails.
	require.NoError(t, a.Search(ctx, 2))
	before := a.Stats()
	err := a.Search(ctx, 1)
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, before.VisitCounts, a.Stats().VisitCounts)
	aID, _ := a.Table().Lookup([]byte("a"))
	assert.Zero(t, a.Table().Node(aID).TotalVisits)
	_, ok := a.Table().Lookup([]byte("a0"))
	assert.False(t, ok)
	checkInvariants(t, a.Table())
}

func TestInvalidPolicyLength(t *testing.T) {
	p := newMockPredictor()
	p.policy = []float32{0.5, 0.5}
	_, err := NewAgent(testConfig(3), nil, p, nil, graphState("start"))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestAdvanceReusesTree(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	ctx := context.Background()
	require.NoError(t, a.Search(ctx, 500))
	calls := p.calls

	action, err := a.AdvanceToBestChild()
	require.NoError(t, err)
	assert.Equal(t, 0, action)
	assert.Equal(t, calls, p.calls)
	assert.Equal(t, graphState("a"), a.RootState())
	assert.Equal(t, 1, a.Steps())
	assert.Equal(t, -1, a.ShortestPath(), "tracker resets on advance")
	assert.Positive(t, a.Stats().TotalVisits, "statistics below the old root survive")

	require.NoError(t, a.Search(ctx, 100))
	assert.Equal(t, 1, a.ShortestPath())

	require.NoError(t, a.AdvanceToAction(1))
	assert.True(t, a.IsTerminal())
}

func TestAdvanceInvalidAction(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	assert.ErrorIs(t, a.AdvanceToAction(-1), ErrInvalidAction)
	assert.ErrorIs(t, a.AdvanceToAction(3), ErrInvalidAction)
	assert.Equal(t, graphState("start"), a.RootState())
}

func TestPrune(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	for _, action := range []int{0, 1, 2} {
		_, err := a.child(a.Root(), action)
		require.NoError(t, err)
	}
	bID, _ := a.Table().Lookup([]byte("b"))
	_, err := a.child(bID, 0)
	require.NoError(t, err)
	require.Equal(t, 5, a.Table().Len())

	require.NoError(t, a.AdvanceToAction(0))
	assert.Equal(t, 4, a.Prune())
	assert.Equal(t, 1, a.Table().Len())
	assert.Equal(t, NodeID(0), a.Root())
	_, ok := a.Table().Lookup([]byte("start"))
	assert.False(t, ok)

	require.NoError(t, a.Search(context.Background(), 50))
	checkInvariants(t, a.Table())
}

func TestPruneOnAdvanceKeepsReachable(t *testing.T) {
	cfg := testConfig(3)
	cfg.PruneOnAdvance = true
	a := newTestAgent(t, cfg, newMockPredictor(), graphState("start"))
	require.NoError(t, a.Search(context.Background(), 300))

	require.NoError(t, a.AdvanceToAction(0))
	root := a.Table().Node(a.Root())
	assert.Equal(t, "a", root.Key)
	for _, c := range root.Children {
		if c != NoNode {
			assert.Less(t, int(c), a.Table().Len())
		}
	}
	checkInvariants(t, a.Table())
}

func TestClonedTable(t *testing.T) {
	p := newMockPredictor()
	a := newTestAgent(t, testConfig(3), p, graphState("start"))
	require.NoError(t, a.Search(context.Background(), 100))
	visits := a.Stats().TotalVisits
	calls := p.calls

	b, err := NewAgent(testConfig(3), a.Table().Clone(), p, nil, graphState("start"))
	require.NoError(t, err)
	assert.Equal(t, calls, p.calls, "root found in the cloned table")
	assert.Equal(t, visits, b.Stats().TotalVisits)

	require.NoError(t, b.Search(context.Background(), 100))
	assert.Equal(t, visits, a.Stats().TotalVisits)
	assert.Equal(t, visits+100, b.Stats().TotalVisits)
}

func TestSearchHonoursContext(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Search(ctx, 10), context.Canceled)
	assert.Zero(t, a.Simulations())
}

func TestStatUnknown(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	_, err := a.Stat("bogus")
	assert.ErrorIs(t, err, ErrUnknownStat)

	for _, name := range []string{"shortest_path", "prior", "prior_dirichlet", "value", "visit_counts", "total_action_values"} {
		_, err := a.Stat(name)
		assert.NoError(t, err, name)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no actions", func(c *Config) { c.Actions = 0 }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"negative cpuct", func(c *Config) { c.Cpuct = -1 }},
		{"zero gamma", func(c *Config) { c.Gamma = 0 }},
		{"gamma above one", func(c *Config) { c.Gamma = 1.5 }},
		{"noise weight above one", func(c *Config) { c.NoiseWeight = 2 }},
		{"zero alpha", func(c *Config) { c.DirichletAlpha = 0 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	_, err := NewAgent(DefaultConfig(), nil, nil, nil, graphState("start"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDirichletNoise(t *testing.T) {
	d := NewDirichletNoise(0.5, 42)
	first := d.Sample(12)
	require.Len(t, first, 12)
	var sum float64
	for _, x := range first {
		assert.GreaterOrEqual(t, x, 0.0)
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.NotEqual(t, first, d.Sample(12))
}

func TestStatus(t *testing.T) {
	a := newTestAgent(t, testConfig(3), newMockPredictor(), graphState("start"))
	require.NoError(t, a.Search(context.Background(), 50))
	s := a.Status([]string{"x", "y", "z"})
	assert.Contains(t, s, "root:")
	assert.Contains(t, s, "shortest_path=2")
	assert.Contains(t, s, "prior   [")
	assert.Contains(t, s, "visits  [")
	assert.Contains(t, s, "\nx ")

	assert.Equal(t, " █", ProbBox([]float64{0, 1}))
}

func TestArgmaxPrefersFirstMax(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.4, 0.4, 0.1}))
	assert.Equal(t, 2, Argmax([]int{0, 3, 7, 7}))
	assert.Equal(t, 0, Argmax([]int{}))
}
