package sync

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ChunkWriter writes records[start:end] as one conflict-resolving upsert
// and reports rows written.
type ChunkWriter func(ctx context.Context, start, end int) (int64, error)

// BatchOptions tunes the idempotent batch writer. Size must be set per
// dataset: row width varies by an order of magnitude between datasets and
// the payload ceiling is per statement, not per row.
type BatchOptions struct {
	Size            int
	ContinueOnError bool
}

// BatchResult aggregates a batch write.
type BatchResult struct {
	Written int64
	Errors  []error
}

// WriteBatches partitions total records into fixed-size chunks and writes
// each through fn. With ContinueOnError unset (the default) the first
// failed chunk aborts and is returned, leaving prior chunks committed;
// every chunk is an idempotent upsert, so a retry replays already-applied
// chunks harmlessly. With it set, chunk failures are collected and
// reported together, never silently dropped.
func WriteBatches(ctx context.Context, total int, opts BatchOptions, fn ChunkWriter) (BatchResult, error) {
	var result BatchResult
	if total == 0 {
		return result, nil
	}
	size := opts.Size
	if size <= 0 {
		size = 500
	}

	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}

		written, err := fn(ctx, start, end)
		if err != nil {
			wrapped := errors.Wrapf(err, "chunk [%d:%d]", start, end)
			if !opts.ContinueOnError {
				result.Errors = append(result.Errors, wrapped)
				return result, wrapped
			}
			result.Errors = append(result.Errors, wrapped)
			continue
		}
		result.Written += written
	}

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("%d of %d chunks failed", len(result.Errors), (total+size-1)/size)
	}
	return result, nil
}
