package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	// StateFormatStickers is State as 54 sticker color bytes, faces in the
	// order U D L R F B.
	StateFormatStickers = "cube_stickers_v1"

	schemaName = "cube_training_row_v1"
)

// TrainingRow is a single supervised training sample: one root of one
// self-play game.
//
// Policy is the visit distribution over the 12 quarter turns. Value is the
// discounted outcome target: gamma^k for a position solved k moves later in
// the game, 0 for positions from games that were not solved.
//
// The root statistics (Prior, PriorNoised, VisitCounts, TotalActionValues,
// RootValue, ShortestPath) are kept for debugging the search.
type TrainingRow struct {
	GameID      string `parquet:"game_id,dict"`
	Step        int32  `parquet:"step"`
	Distance    int32  `parquet:"distance"`
	StateFormat string `parquet:"state_format,dict"`
	State       []byte `parquet:"state"`

	Policy []float32 `parquet:"policy"`
	Value  float32   `parquet:"value"`
	Action int32     `parquet:"action"`

	ShortestPath      int32     `parquet:"shortest_path"`
	RootValue         float32   `parquet:"root_value"`
	Prior             []float32 `parquet:"prior"`
	PriorNoised       []float32 `parquet:"prior_noised"`
	VisitCounts       []int32   `parquet:"visit_counts"`
	TotalActionValues []float32 `parquet:"total_action_values"`

	Source string `parquet:"source,dict"`
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", schemaName),
	}
}

// WriteBatchParquetAtomic writes a Parquet file into outDir/tmp and then
// atomically moves it into outDir.
//
// This is useful for long-running writers (like self-play) that want to ensure
// readers never observe partially-written Parquet files.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writeOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadParquet loads every row of a training file.
func ReadParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
