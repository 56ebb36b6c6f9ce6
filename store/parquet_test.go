package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows(gameID string, n int) []TrainingRow {
	rows := make([]TrainingRow, n)
	for i := range rows {
		rows[i] = TrainingRow{
			GameID:            gameID,
			Step:              int32(i),
			Distance:          3,
			StateFormat:       StateFormatStickers,
			State:             make([]byte, 54),
			Policy:            []float32{0.5, 0.5},
			Value:             0.9,
			Action:            int32(i % 12),
			ShortestPath:      int32(n - i),
			RootValue:         0.01,
			Prior:             []float32{0.5, 0.5},
			PriorNoised:       []float32{0.6, 0.4},
			VisitCounts:       []int32{10, 5},
			TotalActionValues: []float32{9, 1},
			Source:            "selfplay",
		}
	}
	return rows
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	rows := sampleRows("g1", 4)

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp, "no partial files left behind")

	got, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)
	schema, ok := pf.Lookup("schema")
	assert.True(t, ok)
	assert.Equal(t, schemaName, schema)
}

func TestBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteGame(sampleRows("a", 3)))
	require.NoError(t, w.WriteGame(nil))
	require.NoError(t, w.WriteGame(sampleRows("b", 2)))
	assert.Equal(t, 2, w.BufferedGames())
	assert.Equal(t, 5, w.BufferedRows())

	path, rows, games, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, w.OutPath(), path)
	assert.Equal(t, 5, rows)
	assert.Equal(t, 2, games)

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "b", got[4].GameID)

	assert.ErrorIs(t, w.WriteGame(sampleRows("c", 1)), ErrWriterClosed)
	path, _, _, err = w.Finalize()
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestBatchWriterEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)
	path, rows, _, err := w.Finalize()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, rows)

	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
