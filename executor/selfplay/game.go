package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/cubezero/cube"
	"github.com/brensch/cubezero/executor/mcts"
	"github.com/brensch/cubezero/store"
)

const SourceSelfPlay = "selfplay"

var ErrInvalidOptions = errors.New("selfplay: invalid options")

type Options struct {
	Search    mcts.Config
	Predictor mcts.Predictor
	// Noise overrides the root noise. Nil uses Dirichlet noise seeded from
	// Seed.
	Noise mcts.NoiseSource
	// Table, when set, is cloned and used as the starting transposition
	// table. The caller's table is never modified.
	Table *mcts.Table

	MaxSteps      int
	MaxGameLength int
	InvTemp       float64

	// Distance is the scramble length. Ignored when Start is set.
	Distance int
	Start    *cube.Cube

	// Evaluation games record no training rows.
	Evaluation bool

	// Seed drives the scramble and the default noise. 0 uses the clock.
	Seed   uint64
	GameID string

	// OnMove is called after every move is chosen.
	OnMove func(step, action int)
}

type Result struct {
	GameID   string
	Distance int
	Win      bool
	// Moves is the number of searched positions, including the one that
	// ended a lost game.
	Moves       int
	Start       cube.Cube
	Scramble    []int
	Solution    []int
	Simulations int
	TableSize   int
}

func (o Options) validate() error {
	switch {
	case o.Predictor == nil:
		return fmt.Errorf("%w: nil predictor", ErrInvalidOptions)
	case o.MaxSteps < 1:
		return fmt.Errorf("%w: max steps must be >= 1", ErrInvalidOptions)
	case o.MaxGameLength < 1:
		return fmt.Errorf("%w: max game length must be >= 1", ErrInvalidOptions)
	case o.Start == nil && o.Distance < 1:
		return fmt.Errorf("%w: scramble distance must be >= 1", ErrInvalidOptions)
	}
	return nil
}

// PlayGame scrambles a cube and plays it out with the search, choosing the
// most visited move each turn. The game is won when the cube is solved, and
// lost once the search reports no known solution or the length limit is
// reached.
//
// On a win every row's Value is gamma raised to the number of moves left to
// the solve, counting the recorded move itself. Rows of lost games keep 0.
func PlayGame(ctx context.Context, opts Options) ([]store.TrainingRow, Result, error) {
	if err := opts.validate(); err != nil {
		return nil, Result{}, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	res := Result{GameID: opts.GameID, Distance: opts.Distance}
	if res.GameID == "" {
		res.GameID = uuid.NewString()
	}

	if opts.Start != nil {
		res.Start = *opts.Start
		res.Distance = 0
	} else {
		for {
			res.Start, res.Scramble = cube.Scramble(rng, opts.Distance)
			if !res.Start.Solved() {
				break
			}
		}
	}

	table := mcts.NewTable()
	if opts.Table != nil {
		table = opts.Table.Clone()
	}
	noise := opts.Noise
	if noise == nil {
		noise = mcts.NewDirichletNoise(opts.Search.DirichletAlpha, rng.Uint64()|1)
	}

	agent, err := mcts.NewAgent(opts.Search, table, opts.Predictor, noise, res.Start)
	if err != nil {
		return nil, res, fmt.Errorf("selfplay: new agent: %w", err)
	}

	var rows []store.TrainingRow
	if !opts.Evaluation {
		rows = make([]store.TrainingRow, 0, opts.MaxGameLength)
	}

	res.Win = true
	for !agent.IsTerminal() {
		if err := agent.Search(ctx, opts.MaxSteps); err != nil {
			return nil, res, fmt.Errorf("selfplay: search: %w", err)
		}
		probs, err := agent.ActionDistribution(opts.InvTemp)
		if errors.Is(err, mcts.ErrEmptyDistribution) {
			// No action was visited this turn, so follow the root prior.
			probs = oneHot(opts.Search.Actions, mcts.Argmax(agent.Stats().Prior))
		} else if err != nil {
			return nil, res, fmt.Errorf("selfplay: distribution: %w", err)
		}
		action := mcts.Argmax(probs)
		shortest := agent.ShortestPath()

		if !opts.Evaluation {
			rows = append(rows, newRow(res, agent, probs, action))
		}
		if opts.OnMove != nil {
			opts.OnMove(res.Moves, action)
		}

		res.Moves++
		if shortest < 0 || res.Moves >= opts.MaxGameLength {
			res.Win = false
			break
		}
		if err := agent.AdvanceToAction(action); err != nil {
			return nil, res, fmt.Errorf("selfplay: advance: %w", err)
		}
		res.Solution = append(res.Solution, action)
	}

	if res.Win {
		value := 1.0
		for i := len(rows) - 1; i >= 0; i-- {
			value *= opts.Search.Gamma
			rows[i].Value = float32(value)
		}
	}

	res.Simulations = agent.Simulations()
	res.TableSize = agent.Table().Len()
	return rows, res, nil
}

func newRow(res Result, agent *mcts.Agent, probs []float64, action int) store.TrainingRow {
	st := agent.Stats()
	state := agent.RootState().Key()
	return store.TrainingRow{
		GameID:            res.GameID,
		Step:              int32(res.Moves),
		Distance:          int32(res.Distance),
		StateFormat:       store.StateFormatStickers,
		State:             state,
		Policy:            toFloat32(probs),
		Action:            int32(action),
		ShortestPath:      int32(st.ShortestPath),
		RootValue:         float32(st.Value),
		Prior:             toFloat32(st.RawPrior),
		PriorNoised:       toFloat32(st.Prior),
		VisitCounts:       toInt32(st.VisitCounts),
		TotalActionValues: toFloat32(st.TotalActionValues),
		Source:            SourceSelfPlay,
	}
}

func oneHot(n, i int) []float64 {
	out := make([]float64, n)
	out[i] = 1
	return out
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}

func toInt32(xs []int) []int32 {
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}
