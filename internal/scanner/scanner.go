// Package scanner discovers candidate image files under one or more
// root directories. A candidate is an image-format file whose absolute
// path is not already known to the index. Directory listing can run
// serially or fan out across a bounded worker pool; directory
// discovery is always single threaded.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"photoatlas/internal/fsutil"
	"photoatlas/internal/imageformats"
	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
	"photoatlas/internal/workers"
)

// Options configures a scan.
type Options struct {
	// Roots are the directories to scan.
	Roots []string
	// ExistingPaths holds absolute paths already present in the index
	// (unioned with any checkpoint's processed set by the caller).
	ExistingPaths map[string]struct{}
	// ShouldSkip, when non-nil, is consulted per directory; a true
	// return excludes that directory's own files from listing. Its
	// subdirectories are still visited.
	ShouldSkip func(dirPath string) bool
	// Parallel selects the worker-pool listing strategy.
	Parallel bool
	// Workers bounds the listing pool; 0 sizes it from the CPU count.
	Workers int
}

// Result reports what a scan found.
type Result struct {
	// NewFiles are candidate paths, sorted for deterministic batching.
	NewFiles []string
	// TotalSeen counts every image-format file encountered, new or not.
	TotalSeen int
	// DirsScanned counts directories whose files were listed.
	DirsScanned int
	// DirsSkipped counts directories excluded by ShouldSkip.
	DirsSkipped int
}

// dirJob is one unit of listing work: a single directory whose
// immediate files a worker enumerates non-recursively.
type dirJob struct {
	path string
}

type dirResult struct {
	newFiles []string
	seen     int
	err      error
}

// Scan walks opts.Roots and returns the candidate set. Errors on
// individual directories are logged and skipped; only a completely
// unwalkable configuration surfaces as an error from the caller's
// validation, not from here.
func Scan(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()
	metrics.ScanRunsTotal.Inc()

	dirs, skipped := discoverDirectories(ctx, opts)
	metrics.ScanDirectoriesSkipped.Add(float64(skipped))

	var res Result
	if opts.Parallel {
		res = listParallel(ctx, dirs, opts)
	} else {
		res = listSerial(ctx, dirs, opts)
	}
	res.DirsSkipped = skipped

	sort.Strings(res.NewFiles)

	metrics.ScanDirectoriesTotal.Add(float64(res.DirsScanned))
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	logging.Info("Scan complete: %d directories (%d unchanged, skipped), %d files seen, %d new in %v",
		res.DirsScanned, skipped, res.TotalSeen, len(res.NewFiles), time.Since(start))

	return res, ctx.Err()
}

// discoverDirectories walks each root collecting directories whose
// files need listing. Discovery is cheap relative to listing and stays
// single threaded. Hidden directories are not descended into.
func discoverDirectories(ctx context.Context, opts Options) (dirs []string, skipped int) {
	for _, root := range opts.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return filepath.SkipAll
			default:
			}

			if err != nil {
				logging.Warn("Error accessing %s: %v", path, err)
				metrics.ScanDirectoryErrors.Inc()
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			if opts.ShouldSkip != nil && opts.ShouldSkip(path) {
				skipped++
				logging.Debug("Directory unchanged, not listing: %s", path)
				return nil // children still visited
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			logging.Warn("Walk of root %s ended early: %v", root, err)
		}
	}
	return dirs, skipped
}

// listDirectory enumerates one directory's immediate image files.
func listDirectory(dir string, existing map[string]struct{}) dirResult {
	entries, err := fsutil.ReadDir(dir)
	if err != nil {
		return dirResult{err: err}
	}

	var out dirResult
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !imageformats.IsImage(entry.Name()) {
			continue
		}
		out.seen++

		path := filepath.Join(dir, entry.Name())
		if _, known := existing[path]; known {
			continue
		}
		out.newFiles = append(out.newFiles, path)
	}
	return out
}

func listSerial(ctx context.Context, dirs []string, opts Options) Result {
	var res Result
	for _, dir := range dirs {
		select {
		case <-ctx.Done():
			return res
		default:
		}

		r := listDirectory(dir, opts.ExistingPaths)
		if r.err != nil {
			logging.Warn("Error listing %s: %v", dir, r.err)
			metrics.ScanDirectoryErrors.Inc()
			continue
		}
		res.DirsScanned++
		res.TotalSeen += r.seen
		res.NewFiles = append(res.NewFiles, r.newFiles...)
	}
	return res
}

func listParallel(ctx context.Context, dirs []string, opts Options) Result {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = workers.ForIO(len(dirs))
	}
	if numWorkers > len(dirs) && len(dirs) > 0 {
		numWorkers = len(dirs)
	}
	metrics.ScanParallelWorkers.Set(float64(numWorkers))
	logging.Info("Starting parallel listing with %d workers over %d directories", numWorkers, len(dirs))

	jobs := make(chan dirJob, numWorkers*2)
	results := make(chan dirResult, numWorkers*2)

	var wg sync.WaitGroup
	var errCount atomic.Int64

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logging.Debug("Scan worker %d started", id)
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				r := listDirectory(job.path, opts.ExistingPaths)
				if r.err != nil {
					errCount.Add(1)
					logging.Warn("Error listing %s: %v", job.path, r.err)
					metrics.ScanDirectoryErrors.Inc()
					continue
				}

				select {
				case results <- r:
				case <-ctx.Done():
					return
				}
			}
			logging.Debug("Scan worker %d finished", id)
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, dir := range dirs {
			select {
			case jobs <- dirJob{path: dir}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var res Result
	for r := range results {
		res.DirsScanned++
		res.TotalSeen += r.seen
		res.NewFiles = append(res.NewFiles, r.newFiles...)
	}

	if n := errCount.Load(); n > 0 {
		logging.Warn("Parallel listing finished with %d directory errors", n)
	}
	return res
}
