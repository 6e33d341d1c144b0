package extract

import (
	"context"
	"sync"

	"photoatlas/internal/logging"
	"photoatlas/internal/workers"
)

// ExtractAll fans extraction out over a bounded worker pool sized for
// I/O-bound work. Results come back in path order regardless of
// completion order. Cancellation stops dispatch; results already
// produced are returned.
func (e *Extractor) ExtractAll(ctx context.Context, paths []string, numWorkers int) []Result {
	if len(paths) == 0 {
		return nil
	}
	if numWorkers <= 0 {
		numWorkers = workers.ForIO(len(paths))
	}
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	type indexed struct {
		i   int
		res Result
	}

	jobs := make(chan int, numWorkers*2)
	results := make(chan indexed, numWorkers*2)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- indexed{i: i, res: e.Extract(paths[i])}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result, len(paths))
	seen := make([]bool, len(paths))
	count := 0
	for r := range results {
		out[r.i] = r.res
		seen[r.i] = true
		count++
	}

	if count < len(paths) {
		logging.Warn("Extraction interrupted: %d of %d files processed", count, len(paths))
		compact := make([]Result, 0, count)
		for i, ok := range seen {
			if ok {
				compact = append(compact, out[i])
			}
		}
		return compact
	}
	return out
}
