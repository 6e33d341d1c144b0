// Package pipeline wires the scanner, extractor, checkpoint manager,
// and index writer into one resumable indexing run. A run is driven by
// a single coordinating goroutine; parallelism lives inside the
// scanner's listing pool and the extractor's worker pool.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"photoatlas/internal/checkpoint"
	"photoatlas/internal/dircache"
	"photoatlas/internal/extract"
	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
	"photoatlas/internal/scanner"
	"photoatlas/internal/store"
	"photoatlas/internal/writer"
)

// Options configures one indexing run.
type Options struct {
	// RootDir is the photo tree to index.
	RootDir string
	// DBPath is the SQLite database file. Side files (checkpoint,
	// directory cache) live in .workspace next to it.
	DBPath string
	// LibraryName groups this run's photos; defaults to "default".
	LibraryName string
	// MaxWorkers bounds both worker pools; 0 sizes them automatically.
	MaxWorkers int
	// IncludeWithoutGeo indexes photos that have no coordinates.
	IncludeWithoutGeo bool
	// UseDirectoryCache skips directories unchanged since the last run.
	UseDirectoryCache bool
	// AllowResume continues from a checkpoint left by an interrupted run.
	AllowResume bool
	// UseParallelScan enables the parallel directory-listing pool.
	UseParallelScan bool
	// BatchSize is records per commit; 0 uses the writer default.
	BatchSize int
}

// Summary reports what a run accomplished.
type Summary struct {
	Scanned  int
	NewFound int
	Inserted int
	Elapsed  time.Duration
}

// Run executes one full indexing pass. Fatal errors (unreadable root,
// unreachable store, exhausted write retries) abort the run and leave
// the checkpoint in place; per-file and per-directory problems are
// logged and skipped.
func Run(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()
	metrics.PipelineRunsTotal.Inc()
	metrics.PipelineRunning.Set(1)
	defer metrics.PipelineRunning.Set(0)

	var summary Summary

	info, err := os.Stat(opts.RootDir)
	if err != nil {
		return summary, fmt.Errorf("pipeline: root directory: %w", err)
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("pipeline: root %s is not a directory", opts.RootDir)
	}

	st := store.New(opts.DBPath)
	if err := st.Connect(ctx); err != nil {
		return summary, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error("Error closing store: %v", err)
		}
	}()

	libraryName := opts.LibraryName
	if libraryName == "" {
		libraryName = "default"
	}
	libraryID, err := st.EnsureLibrary(ctx, libraryName, []string{opts.RootDir})
	if err != nil {
		return summary, err
	}

	existing, err := st.LoadPathIndex(ctx)
	if err != nil {
		return summary, err
	}

	workspace := filepath.Join(filepath.Dir(opts.DBPath), ".workspace")
	cp := checkpoint.NewManager(filepath.Join(workspace, "process_checkpoint.json"))

	var processed []string
	if opts.AllowResume {
		saved, err := cp.Load()
		if err != nil {
			return summary, err
		}
		if saved != nil {
			processed = saved.ProcessedPaths
			for _, p := range saved.ProcessedPaths {
				existing[p] = struct{}{}
			}
		}
	}

	var dirCache *dircache.Cache
	var shouldSkip func(string) bool
	if opts.UseDirectoryCache {
		dirCache = dircache.New(filepath.Join(workspace, "directory_cache.json"))
		dirCache.Load()
		shouldSkip = dirCache.Unchanged
	}

	scanRes, err := scanner.Scan(ctx, scanner.Options{
		Roots:         []string{opts.RootDir},
		ExistingPaths: existing,
		ShouldSkip:    shouldSkip,
		Parallel:      opts.UseParallelScan,
		Workers:       opts.MaxWorkers,
	})
	if err != nil {
		return summary, err
	}
	summary.Scanned = scanRes.TotalSeen
	summary.NewFound = len(scanRes.NewFiles)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = writer.DefaultBatchSize
	}

	extractor := extract.New()
	w := writer.New(st, existing)
	w.IncludeWithoutGeo = opts.IncludeWithoutGeo

	files := scanRes.NewFiles
	for len(files) > 0 {
		if err := ctx.Err(); err != nil {
			// Checkpoint stays behind for the next invocation.
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		n := batchSize
		if n > len(files) {
			n = len(files)
		}
		batch := files[:n]
		files = files[n:]

		results := extractor.ExtractAll(ctx, batch, opts.MaxWorkers)
		inserted, err := w.Commit(ctx, results, libraryID)
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		summary.Inserted += inserted

		// Only files that actually came back from extraction count as
		// processed. A cancelled pool returns a short result set, and
		// recording the rest would exclude them from every future run.
		for _, res := range results {
			processed = append(processed, res.Path)
		}
		if err := cp.Save(processed, batch); err != nil {
			logging.Warn("Failed to save checkpoint: %v", err)
		}

		if err := ctx.Err(); err != nil {
			// Same outcome as a crash mid-run: checkpoint retained,
			// library timestamp untouched.
			summary.Elapsed = time.Since(start)
			return summary, err
		}
	}

	if err := cp.Clear(); err != nil {
		logging.Warn("Failed to clear checkpoint: %v", err)
	}
	if dirCache != nil {
		if err := dirCache.Save(); err != nil {
			logging.Warn("Failed to save directory cache: %v", err)
		}
	}
	if err := st.TouchLibrary(ctx, libraryID); err != nil {
		logging.Warn("Failed to stamp library: %v", err)
	}

	summary.Elapsed = time.Since(start)
	metrics.PipelineLastRunTimestamp.SetToCurrentTime()
	metrics.PipelineLastRunDuration.Set(summary.Elapsed.Seconds())
	logging.Info("Run complete: %d seen, %d new, %d inserted in %v",
		summary.Scanned, summary.NewFound, summary.Inserted, summary.Elapsed)
	return summary, nil
}
