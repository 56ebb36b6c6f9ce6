package main

import (
	"log/slog"

	"github.com/brensch/cubezero/executor/metrics"
	"github.com/brensch/cubezero/store"
)

type gameWriteRequest struct {
	rows []store.TrainingRow
}

// parquetWriterLoop buffers games from in and writes one parquet file per
// gamesPerFlush games. Remaining games are flushed when in is closed.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest, m *metrics.Metrics, logger *slog.Logger) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	pendingRows := make([]store.TrainingRow, 0, 16*gamesPerFlush)
	pendingGames := 0

	flush := func(final bool) {
		outPath, err := store.WriteBatchParquetAtomic(outDir, pendingRows)
		if err != nil {
			logger.Error("parquet flush failed", "games", pendingGames, "rows", len(pendingRows), "final", final, "err", err)
			if m != nil {
				m.FlushErrors.Inc()
			}
		} else {
			logger.Info("parquet flush ok", "path", outPath, "games", pendingGames, "rows", len(pendingRows), "final", final)
			if m != nil {
				m.RowsWritten.Add(float64(len(pendingRows)))
			}
		}
		pendingRows = pendingRows[:0]
		pendingGames = 0
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		pendingRows = append(pendingRows, req.rows...)
		pendingGames++

		if pendingGames >= gamesPerFlush {
			flush(false)
		}
	}

	if pendingGames > 0 {
		flush(true)
	}
}
