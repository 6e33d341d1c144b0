// Command photoatlas indexes geotagged photo libraries into a SQLite
// database for map display. Runs are incremental: unchanged
// directories are skipped, known paths are never re-extracted, and an
// interrupted run resumes from its checkpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photoatlas/internal/logging"
	"photoatlas/internal/pipeline"
	"photoatlas/internal/startup"
)

func main() {
	cfg, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	rootDir := flag.String("root", cfg.PhotosDir, "photo directory to index")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database file")
	library := flag.String("library", cfg.LibraryName, "library name for this run")
	workers := flag.Int("workers", cfg.MaxWorkers, "worker pool size (0 = auto)")
	batchSize := flag.Int("batch-size", cfg.BatchSize, "records per commit")
	includeGeoless := flag.Bool("include-without-geo", cfg.IncludeWithoutGeo, "index photos without coordinates")
	useCache := flag.Bool("dir-cache", cfg.UseDirectoryCache, "skip directories unchanged since the last run")
	resume := flag.Bool("resume", cfg.AllowResume, "resume from a checkpoint if one exists")
	parallel := flag.Bool("parallel", cfg.UseParallelScan, "scan directories in parallel")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on (empty = disabled)")
	flag.Parse()

	if *rootDir == "" {
		fmt.Fprintln(os.Stderr, "a photo directory is required: pass -root or set PHOTOS_DIR")
		flag.Usage()
		os.Exit(2)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Run(ctx, pipeline.Options{
		RootDir:           *rootDir,
		DBPath:            *dbPath,
		LibraryName:       *library,
		MaxWorkers:        *workers,
		BatchSize:         *batchSize,
		IncludeWithoutGeo: *includeGeoless,
		UseDirectoryCache: *useCache,
		AllowResume:       *resume,
		UseParallelScan:   *parallel,
	})
	if err != nil {
		if ctx.Err() != nil {
			logging.Warn("Interrupted after %v; checkpoint retained, rerun with -resume to continue", summary.Elapsed)
			os.Exit(130)
		}
		logging.Fatal("Indexing failed: %v", err)
	}

	logging.Info("Indexed %d of %d new files (%d seen) in %v",
		summary.Inserted, summary.NewFound, summary.Scanned, summary.Elapsed)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logging.Info("Metrics available at http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Metrics server error: %v", err)
	}
}
