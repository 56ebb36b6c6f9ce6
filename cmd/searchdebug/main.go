// Command searchdebug runs the search on one cube position and prints the
// root statistics, or plays a few self-play games into a parquet file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/cubezero/cube"
	"github.com/brensch/cubezero/executor/config"
	"github.com/brensch/cubezero/executor/mcts"
	"github.com/brensch/cubezero/executor/oracle"
	"github.com/brensch/cubezero/executor/selfplay"
	"github.com/brensch/cubezero/logging"
	"github.com/brensch/cubezero/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "searchdebug:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML or JSON config file")
	modelPath := flag.String("model", "", "Path to ONNX model (overrides inference.model_path from -config)")
	sims := flag.Int("sims", 0, "Simulations per move (0 uses the config)")
	distance := flag.Int("distance", 3, "Random scramble length")
	scramble := flag.String("scramble", "", "Explicit scramble, e.g. \"R U R' U'\"")
	seed := flag.Uint64("seed", 0, "Scramble and noise seed (0 uses the clock)")
	play := flag.Bool("play", false, "Keep playing the best move until solved or the length limit")
	games := flag.Int("games", 0, "Play this many self-play games into -out-dir instead")
	outDir := flag.String("out-dir", "debug_games", "Output directory for -games")
	logFormat := flag.String("log-format", logging.FormatPretty, "Log format: text, json or pretty")
	flag.Parse()

	logger, err := logging.New(os.Stderr, logging.Options{Format: *logFormat, Level: "debug"})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *sims > 0 {
		cfg.SelfPlay.MaxSteps = *sims
	}
	if *modelPath != "" {
		cfg.Inference.ModelPath = *modelPath
	}
	// A single search keeps one request in flight.
	cfg.Inference.Sessions = 1
	cfg.Inference.BatchSize = 1
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	orc, err := oracle.Build(cfg.Inference, nil, logger)
	if err != nil {
		return fmt.Errorf("build oracle: %w", err)
	}
	defer func() {
		if err := orc.Close(); err != nil {
			logger.Error("close oracle", "err", err)
		}
	}()
	var predictor mcts.Predictor = orc

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *games > 0 {
		return playGames(ctx, cfg, predictor, *games, *distance, *seed, *outDir, logger)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	start, moves := cube.Scramble(rng, *distance)
	if *scramble != "" {
		moves, err = cube.ParseMoves(*scramble)
		if err != nil {
			return err
		}
		start = cube.New().Moves(moves...)
	}
	logger.Info("scrambled", "moves", cube.FormatMoves(moves), "sims", cfg.SelfPlay.MaxSteps, "seed", *seed)
	fmt.Println(start)

	agent, err := mcts.NewAgent(cfg.MCTS(), nil, predictor, mcts.NewDirichletNoise(cfg.Search.DirichletAlpha, *seed), start)
	if err != nil {
		return err
	}

	var solution []int
	for step := 0; !agent.IsTerminal() && step < cfg.SelfPlay.MaxGameLength; step++ {
		began := time.Now()
		if err := agent.Search(ctx, cfg.SelfPlay.MaxSteps); err != nil {
			return err
		}
		fmt.Print(agent.Status(cube.ActionNames[:]))

		dist, err := agent.ActionDistribution(cfg.SelfPlay.InvTemp)
		if err != nil {
			return err
		}
		best := mcts.Argmax(dist)
		logger.Info("searched",
			"step", step,
			"best", cube.ActionNames[best],
			"shortest_path", agent.ShortestPath(),
			"distribution", mcts.ProbBox(dist),
			"elapsed", time.Since(began))

		if !*play {
			return nil
		}
		if agent.ShortestPath() < 0 {
			logger.Warn("no solution found within max depth", "max_depth", cfg.Search.MaxDepth)
			return nil
		}
		if err := agent.AdvanceToAction(best); err != nil {
			return err
		}
		solution = append(solution, best)
		fmt.Println(agent.RootState())
	}

	logger.Info("done", "solved", agent.IsTerminal(), "solution", cube.FormatMoves(solution), "table", agent.Table().Len())
	return nil
}

func playGames(ctx context.Context, cfg config.Config, predictor mcts.Predictor, n, distance int, seed uint64, outDir string, logger *slog.Logger) error {
	w, err := store.NewBatchWriter(outDir)
	if err != nil {
		return err
	}
	wins := 0
	for i := 0; i < n; i++ {
		rows, res, err := selfplay.PlayGame(ctx, selfplay.Options{
			Search:        cfg.MCTS(),
			Predictor:     predictor,
			MaxSteps:      cfg.SelfPlay.MaxSteps,
			MaxGameLength: cfg.SelfPlay.MaxGameLength,
			InvTemp:       cfg.SelfPlay.InvTemp,
			Distance:      distance,
			Seed:          seed + uint64(i),
		})
		if err != nil {
			_, _, _, _ = w.Finalize()
			return err
		}
		if res.Win {
			wins++
		}
		logger.Info("game",
			"n", i,
			"id", res.GameID,
			"scramble", cube.FormatMoves(res.Scramble),
			"solution", cube.FormatMoves(res.Solution),
			"win", res.Win,
			"rows", len(rows))
		if err := w.WriteGame(rows); err != nil {
			_, _, _, _ = w.Finalize()
			return err
		}
	}
	path, rows, written, err := w.Finalize()
	if err != nil {
		return err
	}
	logger.Info("games written", "path", path, "games", written, "rows", rows, "wins", wins)
	return nil
}
