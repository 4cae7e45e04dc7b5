package sync

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchesPartitionsFixedChunks(t *testing.T) {
	var chunks [][2]int
	result, err := WriteBatches(context.Background(), 1050, BatchOptions{Size: 400}, func(_ context.Context, start, end int) (int64, error) {
		chunks = append(chunks, [2]int{start, end})
		return int64(end - start), nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1050), result.Written)
	assert.Equal(t, [][2]int{{0, 400}, {400, 800}, {800, 1050}}, chunks)
}

func TestWriteBatchesZeroRecordsIsNoOp(t *testing.T) {
	called := false
	result, err := WriteBatches(context.Background(), 0, BatchOptions{Size: 10}, func(_ context.Context, _, _ int) (int64, error) {
		called = true
		return 0, nil
	})

	require.NoError(t, err)
	assert.False(t, called)
	assert.Zero(t, result.Written)
}

func TestWriteBatchesAbortsOnFirstFailureByDefault(t *testing.T) {
	var chunks int
	result, err := WriteBatches(context.Background(), 30, BatchOptions{Size: 10}, func(_ context.Context, start, _ int) (int64, error) {
		chunks++
		if start == 10 {
			return 0, errors.New("connection reset")
		}
		return 10, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk [10:20]")
	// The failing chunk stops the batch; the third chunk is never tried,
	// and the first chunk's rows stay committed.
	assert.Equal(t, 2, chunks)
	assert.Equal(t, int64(10), result.Written)
}

func TestWriteBatchesContinueOnErrorCollectsFailures(t *testing.T) {
	result, err := WriteBatches(context.Background(), 30, BatchOptions{Size: 10, ContinueOnError: true}, func(_ context.Context, start, _ int) (int64, error) {
		if start == 10 {
			return 0, errors.New("connection reset")
		}
		return 10, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 chunks failed")
	assert.Equal(t, int64(20), result.Written)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "chunk [10:20]")
}

func TestWriteBatchesDefaultsChunkSize(t *testing.T) {
	var chunks int
	_, err := WriteBatches(context.Background(), 1200, BatchOptions{}, func(_ context.Context, _, _ int) (int64, error) {
		chunks++
		return 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
}
