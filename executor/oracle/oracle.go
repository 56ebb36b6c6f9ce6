// Package oracle composes the predictor stack shared by the executor and the
// debug tools: Symmetric(Cache(Instrument(model))).
package oracle

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/brensch/cubezero/cube"
	"github.com/brensch/cubezero/executor/config"
	"github.com/brensch/cubezero/executor/inference"
	"github.com/brensch/cubezero/executor/mcts"
	"github.com/brensch/cubezero/executor/metrics"
)

// Oracle is safe for concurrent use. Every layer except the model is
// optional.
type Oracle struct {
	mcts.Predictor

	runtime interface{ Stats() inference.RuntimeStats }
	cache   *inference.Cache
	closers []func() error
}

func (o *Oracle) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	return errors.Join(errs...)
}

// RuntimeStats reports ONNX batching, when a model is loaded.
func (o *Oracle) RuntimeStats() (inference.RuntimeStats, bool) {
	if o.runtime == nil {
		return inference.RuntimeStats{}, false
	}
	return o.runtime.Stats(), true
}

// CacheStats reports cache hits and misses, when the cache is enabled.
func (o *Oracle) CacheStats() (inference.CacheStats, bool) {
	if o.cache == nil {
		return inference.CacheStats{}, false
	}
	return o.cache.Stats(), true
}

// Build loads the model in cfg, falling back to a uniform oracle when no
// model is configured or the file does not exist. m may be nil.
func Build(cfg config.InferenceConfig, m *metrics.Metrics, logger *slog.Logger) (*Oracle, error) {
	o := &Oracle{}

	var base inference.Predictor
	if cfg.ModelPath == "" {
		logger.Warn("no model configured, using uniform oracle", "value", cfg.UniformValue)
		base = inference.Uniform{Actions: cube.NumActions, Value: float32(cfg.UniformValue)}
	} else if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		logger.Warn("model file not found, using uniform oracle", "path", cfg.ModelPath, "value", cfg.UniformValue)
		base = inference.Uniform{Actions: cube.NumActions, Value: float32(cfg.UniformValue)}
	} else {
		onnxCfg := inference.OnnxClientConfig{
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			UseCUDA:      cfg.UseCUDA,
			PolicyLogits: cfg.PolicyLogits,
		}
		pool, err := inference.NewOnnxClientPoolWithConfig(cfg.ModelPath, cfg.Sessions, onnxCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("onnx model loaded", "path", cfg.ModelPath, "sessions", cfg.Sessions, "batch_size", cfg.BatchSize)
		base = pool
		o.runtime = pool
		o.closers = append(o.closers, pool.Close)
	}

	var p inference.Predictor = base
	if m != nil {
		p = metrics.InstrumentPredictor(p, m)
	}
	if cfg.CacheMaxCost > 0 {
		c, err := inference.NewCache(p, cfg.CacheMaxCost)
		if err != nil {
			_ = o.Close()
			return nil, err
		}
		o.cache = c
		o.closers = append(o.closers, func() error { c.Close(); return nil })
		if m != nil {
			m.RegisterCache(c)
		}
		p = c
	}
	if cfg.Symmetry {
		p = inference.NewSymmetric(p, uint64(time.Now().UnixNano()))
	}
	o.Predictor = p
	return o, nil
}
