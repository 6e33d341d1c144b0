// Package writer commits extraction results to the index in batches.
// It owns the dedupe and geo-filter policy; the store owns the SQL.
package writer

import (
	"context"
	"time"

	"photoatlas/internal/extract"
	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
	"photoatlas/internal/store"
)

// DefaultBatchSize balances transaction overhead against memory and
// lock hold time.
const DefaultBatchSize = 500

// Writer batches records into the store. Not safe for concurrent use;
// the pipeline drives it from a single goroutine.
type Writer struct {
	store *store.Manager
	// IncludeWithoutGeo admits records with no coordinates. Off by
	// default: the map view has no use for them, but callers indexing
	// for dedup purposes can opt in.
	IncludeWithoutGeo bool
	// existing tracks every path known to the index, updated as
	// batches land so later batches in the same run dedupe correctly.
	existing map[string]struct{}
}

// New creates a writer over the store. existingPaths is adopted, not
// copied; the caller shares it with the scanner's candidate filter.
func New(st *store.Manager, existingPaths map[string]struct{}) *Writer {
	if existingPaths == nil {
		existingPaths = make(map[string]struct{})
	}
	return &Writer{store: st, existing: existingPaths}
}

// Commit filters, dedupes, and inserts one batch. Returns the number
// of rows actually inserted. A batch rejected by a constraint falls
// back to row-by-row insertion so one conflicting row does not sink
// its neighbors.
func (w *Writer) Commit(ctx context.Context, batch []extract.Result, libraryID int64) (int, error) {
	records := make([]store.PhotoRecord, 0, len(batch))
	for _, res := range batch {
		if res.Path == "" {
			continue
		}
		if _, dup := w.existing[res.Path]; dup {
			metrics.RecordsSkippedTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		if !res.HasGeo() && !w.IncludeWithoutGeo {
			// Still marked as known so the file is not rescanned.
			w.existing[res.Path] = struct{}{}
			metrics.RecordsSkippedTotal.WithLabelValues("no_gps").Inc()
			continue
		}

		w.existing[res.Path] = struct{}{}
		records = append(records, store.PhotoRecord{
			Filename:    res.Filename,
			Path:        res.Path,
			Latitude:    res.Latitude,
			Longitude:   res.Longitude,
			TakenAt:     res.TakenAt,
			Fingerprint: res.Fingerprint,
			LibraryID:   libraryID,
			MarkerData:  res.MarkerData(),
		})
	}

	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	inserted, err := w.store.InsertBatch(ctx, records)
	if err != nil {
		logging.Warn("Batch insert of %d records failed (%v), retrying row by row", len(records), err)
		metrics.BatchRowFallbacksTotal.Inc()

		var skipped int
		inserted, skipped, err = w.store.InsertRowByRow(ctx, records)
		if err != nil {
			return inserted, err
		}
		if skipped > 0 {
			metrics.RecordsSkippedTotal.WithLabelValues("constraint").Add(float64(skipped))
		}
	}

	metrics.BatchesCommittedTotal.Inc()
	metrics.RecordsInsertedTotal.Add(float64(inserted))
	logging.Info("Committed batch: %d inserted of %d candidates in %v",
		inserted, len(batch), time.Since(start))
	return inserted, nil
}

// Known reports whether a path has already been indexed or committed
// earlier in this run.
func (w *Writer) Known(path string) bool {
	_, ok := w.existing[path]
	return ok
}
