package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/cubezero/executor/config"
	"github.com/brensch/cubezero/executor/mcts"
	"github.com/brensch/cubezero/executor/metrics"
	"github.com/brensch/cubezero/executor/oracle"
	"github.com/brensch/cubezero/executor/selfplay"
	"github.com/brensch/cubezero/logging"
)

var totalMoves atomic.Int64
var totalInferences atomic.Int64
var totalGames atomic.Int64
var totalWins atomic.Int64

type instrumentedClient struct {
	mcts.Predictor
}

func (c *instrumentedClient) Predict(features []float32) ([]float32, float32, error) {
	totalInferences.Add(1)
	return c.Predictor.Predict(features)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "executor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse("executor", args)
	if err != nil {
		return err
	}

	// The dashboard owns the terminal, so logs go to a file.
	var logOut io.Writer = os.Stderr
	if cfg.TUI {
		f, err := os.OpenFile("executor.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(logOut, logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	m := metrics.New()
	orc, err := oracle.Build(cfg.Inference, m, logger)
	if err != nil {
		return fmt.Errorf("build oracle: %w", err)
	}
	defer func() {
		if err := orc.Close(); err != nil {
			logger.Error("close oracle", "err", err)
		}
	}()
	var predictor mcts.Predictor = &instrumentedClient{Predictor: orc}

	curriculum := selfplay.NewCurriculum(selfplay.CurriculumConfig{
		StartingDistance: cfg.SelfPlay.StartingDistance,
		MinDistance:      cfg.SelfPlay.MinDistance,
		WinRateMemory:    cfg.SelfPlay.WinRateMemory,
		WinRateUpper:     cfg.SelfPlay.WinRateUpper,
		WinRateLower:     cfg.SelfPlay.WinRateLower,
		AdjustEvery:      cfg.SelfPlay.AdjustEvery,
	})
	m.Distance.Set(float64(curriculum.Distance()))

	logger.Info("starting self-play",
		"workers", cfg.Workers,
		"sims", cfg.SelfPlay.MaxSteps,
		"distance", curriculum.Distance(),
		"evaluation", cfg.SelfPlay.Evaluation,
		"out_dir", cfg.Output.OutDir)

	// Each worker keeps one inference request in flight.
	if cfg.Inference.BatchSize > cfg.Workers {
		logger.Warn("batch size exceeds workers; batches will rarely fill",
			"onnx_batch_size", cfg.Inference.BatchSize, "workers", cfg.Workers)
	}

	var updates chan GameUpdate
	if cfg.TUI {
		updates = make(chan GameUpdate, cfg.Workers)
	}
	writeReqs := make(chan gameWriteRequest, cfg.Workers*4)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		parquetWriterLoop(cfg.Output.OutDir, cfg.Output.GamesPerFlush, writeReqs, m, logger)
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			return m.Serve(gctx, cfg.MetricsAddr)
		})
	}

	w := &worker{
		cfg:        cfg,
		mcts:       cfg.MCTS(),
		predictor:  predictor,
		curriculum: curriculum,
		metrics:    m,
		writeReqs:  writeReqs,
		updates:    updates,
		stop:       cancel,
	}
	workers, wctx := errgroup.WithContext(gctx)
	for i := 0; i < cfg.Workers; i++ {
		id := i
		workers.Go(func() error {
			return w.loop(wctx, id, logger.With("worker", id))
		})
	}
	g.Go(func() error {
		err := workers.Wait()
		close(writeReqs)
		if updates != nil {
			close(updates)
		}
		<-writerDone
		cancel()
		return err
	})

	if cfg.TUI {
		g.Go(func() error {
			p := tea.NewProgram(initialModel(updates, curriculum.Stats), tea.WithAltScreen(), tea.WithContext(gctx))
			_, err := p.Run()
			cancel()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		statsLoop(gctx, orc, curriculum, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete", "games", totalGames.Load(), "wins", totalWins.Load())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type worker struct {
	cfg        config.Config
	mcts       mcts.Config
	predictor  mcts.Predictor
	curriculum *selfplay.Curriculum
	metrics    *metrics.Metrics
	writeReqs  chan<- gameWriteRequest
	updates    chan GameUpdate
	stop       context.CancelFunc
}

func (w *worker) loop(ctx context.Context, id int, logger *slog.Logger) error {
	logger.Debug("worker started")
	seed := uint64(time.Now().UnixNano()) + uint64(id)*1000003
	for game := uint64(0); ; game++ {
		if ctx.Err() != nil {
			return nil
		}

		rows, res, err := selfplay.PlayGame(ctx, selfplay.Options{
			Search:        w.mcts,
			Predictor:     w.predictor,
			MaxSteps:      w.cfg.SelfPlay.MaxSteps,
			MaxGameLength: w.cfg.SelfPlay.MaxGameLength,
			InvTemp:       w.cfg.SelfPlay.InvTemp,
			Distance:      w.curriculum.Distance(),
			Evaluation:    w.cfg.SelfPlay.Evaluation,
			Seed:          seed + game*7919,
			OnMove: func(int, int) {
				totalMoves.Add(1)
				w.metrics.Moves.Inc()
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown interrupted the game; drop it.
				return nil
			}
			return fmt.Errorf("worker %d: %w", id, err)
		}

		total := totalGames.Add(1)
		if w.cfg.MaxGames > 0 && total > w.cfg.MaxGames {
			return nil
		}
		if res.Win {
			totalWins.Add(1)
		}

		distance := w.curriculum.Record(res.Win)
		result := "loss"
		if res.Win {
			result = "win"
		}
		w.metrics.Games.WithLabelValues(result).Inc()
		w.metrics.Simulations.Add(float64(res.Simulations))
		w.metrics.TableSize.Observe(float64(res.TableSize))
		w.metrics.Distance.Set(float64(distance))

		logger.Debug("game finished",
			"game", total,
			"id", res.GameID,
			"distance", res.Distance,
			"win", res.Win,
			"moves", res.Moves,
			"rows", len(rows),
			"next_distance", distance)

		if len(rows) > 0 {
			w.writeReqs <- gameWriteRequest{rows: rows}
		}
		if w.updates != nil {
			// Avoid blocking shutdown if the UI loop stops consuming.
			select {
			case w.updates <- GameUpdate{WorkerID: id, Result: res, Examples: len(rows)}:
			default:
			}
		}

		if w.cfg.MaxGames > 0 && total == w.cfg.MaxGames {
			logger.Info("reached max games", "games", total)
			w.stop()
			return nil
		}
	}
}

func statsLoop(ctx context.Context, orc *oracle.Oracle, curriculum *selfplay.Curriculum, logger *slog.Logger) {
	startTime := time.Now()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			cs := curriculum.Stats()
			attrs := []any{
				"games", totalGames.Load(),
				"wins", totalWins.Load(),
				"distance", cs.Distance,
				"recent_wins", cs.RecentWins,
				"recent_games", cs.RecentGames,
				"moves_per_sec", float64(totalMoves.Load()) / secs,
				"inf_per_sec", float64(totalInferences.Load()) / secs,
			}
			if st, ok := orc.RuntimeStats(); ok {
				attrs = append(attrs,
					"batch_avg", st.AvgBatchSize,
					"batch_last", st.LastBatchSize,
					"queue", st.QueueLen,
					"run_avg_ms", st.AvgRunMs)
			}
			if cst, ok := orc.CacheStats(); ok {
				attrs = append(attrs, "cache_hits", cst.Hits, "cache_misses", cst.Misses)
			}
			logger.Info("stats", attrs...)
		}
	}
}
