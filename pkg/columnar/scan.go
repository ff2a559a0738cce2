package columnar

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// minPartitionSize is the minimum number of IDs a parallel scan worker
// is given, per spec §4.8 ("partition the input by contiguous ID ranges
// sized >= 1000 per worker"). Below this, a scan runs single-threaded —
// fan-out overhead would dominate.
const minPartitionSize = 1000

// ParallelScan partitions ids into contiguous ranges of at least
// minPartitionSize each, runs scanFn over each partition concurrently
// via errgroup, and reduces the results deterministically by
// stable-sorting on the key sortKey extracts — the same ordering
// regardless of which worker finishes first (spec §4.8).
func ParallelScan[T any, K any](ctx context.Context, ids []uint64, scanFn func(ctx context.Context, partition []uint64) ([]T, error), sortKey func(T) K, less func(a, b K) bool) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	workers := len(ids) / minPartitionSize
	if workers < 1 {
		workers = 1
	}

	partitions := partitionContiguous(ids, workers)
	results := make([][]T, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			out, err := scanFn(gctx, part)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []T
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return less(sortKey(merged[i]), sortKey(merged[j]))
	})
	return merged, nil
}

// partitionContiguous splits ids into up to workers contiguous slices,
// each sized >= minPartitionSize where possible. ids is assumed already
// in the caller's canonical ID order, so each partition covers a
// contiguous ID range as spec §4.8 requires.
func partitionContiguous(ids []uint64, workers int) [][]uint64 {
	n := len(ids)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	base := n / workers
	rem := n % workers
	partitions := make([][]uint64, 0, workers)
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		partitions = append(partitions, ids[start:start+size])
		start += size
	}
	return partitions
}
