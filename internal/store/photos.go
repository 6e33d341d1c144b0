package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
)

// PhotoRecord is one row of the photos table.
type PhotoRecord struct {
	Filename    string
	Path        string
	Latitude    *float64
	Longitude   *float64
	TakenAt     *time.Time
	Fingerprint string
	LibraryID   int64
	MarkerData  string
}

func (p PhotoRecord) takenAtValue() any {
	if p.TakenAt == nil {
		return nil
	}
	return p.TakenAt.Format(time.RFC3339)
}

// EnsureLibrary returns the id of the named library, creating it on
// first sight. sourceDirs is recorded as a JSON array for reference.
func (m *Manager) EnsureLibrary(ctx context.Context, name string, sourceDirs []string) (int64, error) {
	dirs, err := json.Marshal(sourceDirs)
	if err != nil {
		return 0, fmt.Errorf("store: marshal source dirs: %w", err)
	}

	var id int64
	err = m.WithRetry(ctx, "ensure library", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT id FROM libraries WHERE name = ?`, name)
		if err := row.Scan(&id); err == nil {
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO libraries (name, source_dirs) VALUES (?, ?)`, name, string(dirs))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err == nil {
			logging.Info("Created library %q (id %d)", name, id)
		}
		return err
	})
	return id, err
}

// TouchLibrary stamps a library's last_indexed_at. Called only after a
// run completes without fatal error.
func (m *Manager) TouchLibrary(ctx context.Context, id int64) error {
	return m.WithRetry(ctx, "touch library", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE libraries SET last_indexed_at = strftime('%s', 'now') WHERE id = ?`, id)
		return err
	})
}

// LoadPathIndex returns every indexed photo path. The set is the
// baseline the scanner filters candidates against.
func (m *Manager) LoadPathIndex(ctx context.Context) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	err := m.WithRetry(ctx, "load path index", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT path FROM photos`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				return err
			}
			paths[p] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	logging.Info("Loaded %d existing paths from index", len(paths))
	return paths, nil
}

const insertPhotoSQL = `
	INSERT INTO photos (filename, path, latitude, longitude, taken_at, fingerprint, library_id, marker_data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBatch writes all records in one transaction. Transient errors
// retry the whole transaction; a constraint violation aborts it so the
// caller can fall back to row-by-row insertion.
func (m *Manager) InsertBatch(ctx context.Context, records []PhotoRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := m.WithRetry(ctx, "insert batch", func(db *sql.DB) error {
		start := time.Now()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, insertPhotoSQL)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		count := 0
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.Filename, rec.Path,
				rec.Latitude, rec.Longitude, rec.takenAtValue(),
				rec.Fingerprint, rec.LibraryID, rec.MarkerData); err != nil {
				tx.Rollback()
				metrics.StoreTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
				return err
			}
			count++
		}

		if err := tx.Commit(); err != nil {
			metrics.StoreTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
			return err
		}
		metrics.StoreTransactionDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
		inserted = count
		return nil
	})
	return inserted, err
}

// InsertRowByRow inserts records individually, skipping rows that hit
// constraint violations. Used when a batch transaction was rejected so
// the conflicting rows alone are lost. Each row carries its own retry:
// retrying the whole loop would re-insert earlier rows and count their
// unique-path conflicts as skips.
func (m *Manager) InsertRowByRow(ctx context.Context, records []PhotoRecord) (inserted, skipped int, err error) {
	for _, rec := range records {
		execErr := m.WithRetry(ctx, "insert row", func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, insertPhotoSQL,
				rec.Filename, rec.Path, rec.Latitude, rec.Longitude,
				rec.takenAtValue(), rec.Fingerprint, rec.LibraryID, rec.MarkerData)
			return err
		})
		if execErr != nil {
			if IsConstraint(execErr) {
				skipped++
				logging.Debug("Skipping conflicting row %s: %v", rec.Path, execErr)
				continue
			}
			return inserted, skipped, execErr
		}
		inserted++
	}
	return inserted, skipped, nil
}

// CountPhotos returns the number of indexed photos, optionally limited
// to one library (id 0 means all).
func (m *Manager) CountPhotos(ctx context.Context, libraryID int64) (int, error) {
	var n int
	err := m.WithRetry(ctx, "count photos", func(db *sql.DB) error {
		if libraryID > 0 {
			return db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM photos WHERE library_id = ?`, libraryID).Scan(&n)
		}
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&n)
	})
	return n, err
}
