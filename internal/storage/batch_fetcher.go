package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher coordinates parallel reads from object storage. An extraction
// for one object can span many data files; fetching them concurrently keeps
// the import stage from being dominated by storage round trips.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult contains the outcome of a batch fetch operation.
type BatchResult struct {
	// Contents maps object path to object contents for successful reads.
	Contents map[string][]byte
	// Errors maps object path to error for failed reads.
	Errors map[string]error
}

// NewBatchFetcher creates a new batch fetcher.
// concurrency is the maximum number of parallel reads.
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchFetcher{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Fetch reads the given objects in parallel, bounded by the configured
// concurrency. Per-object failures are collected rather than aborting the
// whole batch; the caller decides whether partial results are usable.
func (b *BatchFetcher) Fetch(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		Contents: make(map[string][]byte, len(objectPaths)),
		Errors:   make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, path := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			data, err := b.storage.Get(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Contents[path] = data
		}(path)
	}

	wg.Wait()
	return result, nil
}
