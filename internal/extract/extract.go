// Package extract pulls capture time and geolocation out of image
// files. Extraction never fails hard for expected conditions: missing
// metadata degrades field by field, and a file that cannot be opened
// at all still yields a path-only result so it enters the index and is
// not rescanned forever.
package extract

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"photoatlas/internal/fingerprint"
	"photoatlas/internal/fsutil"
	"photoatlas/internal/imageformats"
	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
)

// DefaultMaxFileSize is the ceiling above which files are fingerprinted
// without metadata decoding. 500 MB covers any plausible photo; larger
// files are almost certainly mislabeled video or corrupt.
const DefaultMaxFileSize = 500 * 1024 * 1024

// Result is one file's extraction outcome. Nil pointer fields mean the
// value could not be determined, which is an expected state, not an
// error.
type Result struct {
	Filename    string
	Path        string
	Fingerprint string
	TakenAt     *time.Time
	Latitude    *float64
	Longitude   *float64
}

// HasGeo reports whether both coordinates were recovered.
func (r Result) HasGeo() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// MarkerData renders the map-marker payload stored alongside the
// record. Files without a usable timestamp cluster under "unknown".
func (r Result) MarkerData() string {
	group := "unknown"
	if r.TakenAt != nil {
		group = r.TakenAt.Format("2006-01")
	}
	payload := map[string]any{
		"popup_text":    r.Filename,
		"cluster_group": group,
		"has_thumbnail": false,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"popup_text":"","cluster_group":"unknown","has_thumbnail":false}`
	}
	return string(data)
}

// Extractor runs metadata extraction with a shared fingerprint cache.
type Extractor struct {
	Fingerprints *fingerprint.Cache
	MaxFileSize  int64
}

// New returns an extractor with default limits.
func New() *Extractor {
	return &Extractor{
		Fingerprints: fingerprint.NewCache(0),
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// Extract processes one file. The returned result always carries the
// filename and path; everything else is best effort.
func (e *Extractor) Extract(path string) Result {
	start := time.Now()
	res := Result{
		Filename: filepath.Base(path),
		Path:     path,
	}

	info, err := fsutil.Stat(path)
	if err != nil {
		logging.Warn("Cannot stat %s: %v", path, err)
		metrics.ExtractionsTotal.WithLabelValues("unreadable").Inc()
		return res
	}

	fp, err := e.Fingerprints.File(path)
	if err != nil {
		logging.Warn("Cannot fingerprint %s: %v", path, err)
		metrics.ExtractionsTotal.WithLabelValues("unreadable").Inc()
		return res
	}
	res.Fingerprint = fp

	// Oversized files and formats the decoder has no codec for are
	// indexed by path and fingerprint only.
	if info.Size() > e.MaxFileSize || imageformats.IsFingerprintOnly(path) {
		mt := info.ModTime()
		res.TakenAt = &mt
		metrics.ExtractionsTotal.WithLabelValues("fingerprint_only").Inc()
		metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
		return res
	}

	f, err := fsutil.Open(path)
	if err != nil {
		logging.Warn("Cannot open %s: %v", path, err)
		metrics.ExtractionsTotal.WithLabelValues("unreadable").Inc()
		return res
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF block at all. Fall back to the filesystem timestamp.
		logging.Debug("No EXIF data in %s: %v", path, err)
		mt := info.ModTime()
		res.TakenAt = &mt
		metrics.ExtractionsTotal.WithLabelValues("no_gps").Inc()
		metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
		return res
	}

	if dt, err := x.DateTime(); err == nil {
		res.TakenAt = &dt
	} else {
		mt := info.ModTime()
		res.TakenAt = &mt
	}

	res.Latitude, res.Longitude = decodeGPS(x, path)

	outcome := "full"
	if !res.HasGeo() {
		outcome = "no_gps"
	}
	metrics.ExtractionsTotal.WithLabelValues(outcome).Inc()
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	return res
}

// decodeGPS tries the decoder's combined lat/long accessor first, then
// falls back to decoding the raw GPS tags directly. Some devices write
// GPS blocks the combined accessor rejects while the individual tags
// remain readable.
func decodeGPS(x *exif.Exif, path string) (*float64, *float64) {
	if lat, lon, err := x.LatLong(); err == nil {
		if validCoords(lat, lon) {
			metrics.GPSStrategyHits.WithLabelValues("primary").Inc()
			return &lat, &lon
		}
	}

	lat, latOK := decodeCoordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef, "S")
	lon, lonOK := decodeCoordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef, "W")
	if !latOK || !lonOK || !validCoords(lat, lon) {
		return nil, nil
	}

	logging.Debug("Recovered GPS for %s from raw tags: %f, %f", path, lat, lon)
	metrics.GPSStrategyHits.WithLabelValues("raw_tags").Inc()
	return &lat, &lon
}

// decodeCoordinate reads one degrees/minutes/seconds triple plus its
// hemisphere reference. A missing reference tag defaults to the
// positive hemisphere (N or E).
func decodeCoordinate(x *exif.Exif, valueTag, refTag exif.FieldName, negativeRef string) (float64, bool) {
	tag, err := x.Get(valueTag)
	if err != nil || tag == nil {
		return 0, false
	}

	deg, ok := rationalAt(tag, 0)
	if !ok {
		return 0, false
	}
	min, ok := rationalAt(tag, 1)
	if !ok {
		min = 0
	}
	sec, ok := rationalAt(tag, 2)
	if !ok {
		sec = 0
	}

	ref := ""
	if refTag != "" {
		if rt, err := x.Get(refTag); err == nil && rt != nil {
			if s, err := rt.StringVal(); err == nil {
				ref = s
			}
		}
	}

	return dmsToDecimal(deg, min, sec, ref, negativeRef), true
}

// rationalAt reads component i of a tag, tolerating rational, integer,
// and floating point encodings.
func rationalAt(tag *tiff.Tag, i int) (float64, bool) {
	if num, den, err := tag.Rat2(i); err == nil && den != 0 {
		return float64(num) / float64(den), true
	}
	if v, err := tag.Int(i); err == nil {
		return float64(v), true
	}
	if v, err := tag.Float(i); err == nil {
		return v, true
	}
	return 0, false
}

// dmsToDecimal converts a degrees/minutes/seconds triple to signed
// decimal degrees. The value is negated when the hemisphere reference
// matches negativeRef (S or W); an absent reference stays positive.
func dmsToDecimal(deg, min, sec float64, ref, negativeRef string) float64 {
	decimal := deg + min/60 + sec/3600
	if ref == negativeRef {
		return -decimal
	}
	return decimal
}

func validCoords(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// String summarizes a result for log output.
func (r Result) String() string {
	geo := "no geo"
	if r.HasGeo() {
		geo = fmt.Sprintf("%.6f,%.6f", *r.Latitude, *r.Longitude)
	}
	return fmt.Sprintf("%s (%s)", r.Filename, geo)
}
