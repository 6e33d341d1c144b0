package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDMSToDecimal(t *testing.T) {
	tests := []struct {
		name          string
		deg, min, sec float64
		ref, negRef   string
		want          float64
	}{
		{"north latitude", 40, 26, 46.8, "N", "S", 40.446333},
		{"west longitude", 74, 0, 21.6, "W", "W", -74.006},
		{"south latitude", 33, 52, 4, "S", "S", -33.867778},
		{"east longitude", 151, 12, 26, "E", "W", 151.207222},
		{"missing ref defaults positive", 40, 26, 46.8, "", "S", 40.446333},
		{"zero components", 12, 0, 0, "N", "S", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dmsToDecimal(tt.deg, tt.min, tt.sec, tt.ref, tt.negRef)
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("dmsToDecimal(%v, %v, %v, %q) = %f, want %f",
					tt.deg, tt.min, tt.sec, tt.ref, got, tt.want)
			}
		})
	}
}

func TestValidCoords(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{40.45, -74.0, true},
		{0, 0, false},
		{91, 0, false},
		{-91, 10, false},
		{45, 181, false},
		{45, -181, false},
		{-90, 180, true},
	}
	for _, tt := range tests {
		if got := validCoords(tt.lat, tt.lon); got != tt.want {
			t.Errorf("validCoords(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
}

// buildTIFF returns a minimal big-endian TIFF with a DateTime tag and
// a GPS sub-IFD encoding 40°26'46.8" / 74°0'21.6" W. withLatRef
// controls whether GPSLatitudeRef is present; without it the combined
// lat/long accessor rejects the block and only the raw tags remain.
func buildTIFF(withLatRef bool) []byte {
	var buf bytes.Buffer
	be := binary.BigEndian

	entry := func(tag, typ uint16, count, value uint32) {
		binary.Write(&buf, be, tag)
		binary.Write(&buf, be, typ)
		binary.Write(&buf, be, count)
		binary.Write(&buf, be, value)
	}
	inline := func(tag, typ uint16, count uint32, value [4]byte) {
		binary.Write(&buf, be, tag)
		binary.Write(&buf, be, typ)
		binary.Write(&buf, be, count)
		buf.Write(value[:])
	}

	dateTime := "2021:03:14 09:26:53\x00"
	const ifd0Size = 2 + 2*12 + 4
	dtOffset := uint32(8 + ifd0Size)
	gpsOffset := dtOffset + uint32(len(dateTime))
	gpsCount := uint32(4)
	if !withLatRef {
		gpsCount = 3
	}
	latOffset := gpsOffset + 2 + gpsCount*12 + 4
	lonOffset := latOffset + 24

	buf.WriteString("MM")
	binary.Write(&buf, be, uint16(0x2A))
	binary.Write(&buf, be, uint32(8)) // IFD0 offset

	binary.Write(&buf, be, uint16(2))                 // IFD0 entry count
	entry(0x0132, 2, uint32(len(dateTime)), dtOffset) // DateTime, ASCII
	entry(0x8825, 4, 1, gpsOffset)                    // GPS IFD pointer, LONG
	binary.Write(&buf, be, uint32(0))                 // no next IFD

	buf.WriteString(dateTime)

	binary.Write(&buf, be, uint16(gpsCount))
	if withLatRef {
		inline(0x0001, 2, 2, [4]byte{'N'}) // GPSLatitudeRef
	}
	entry(0x0002, 5, 3, latOffset)     // GPSLatitude, 3 RATIONALs
	inline(0x0003, 2, 2, [4]byte{'W'}) // GPSLongitudeRef
	entry(0x0004, 5, 3, lonOffset)     // GPSLongitude
	binary.Write(&buf, be, uint32(0))

	// 40/1 26/1 468/10 then 74/1 0/1 216/10
	for _, v := range []uint32{40, 1, 26, 1, 468, 10, 74, 1, 0, 1, 216, 10} {
		binary.Write(&buf, be, v)
	}
	return buf.Bytes()
}

func TestExtractEXIFTimestampAndGPS(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tagged.tiff", buildTIFF(true))

	res := New().Extract(path)

	if res.Fingerprint == "" {
		t.Error("expected fingerprint")
	}
	if res.TakenAt == nil {
		t.Fatal("expected embedded capture time")
	}
	if got := res.TakenAt.Format("2006:01:02 15:04:05"); got != "2021:03:14 09:26:53" {
		t.Errorf("TakenAt = %s, want 2021:03:14 09:26:53", got)
	}

	if !res.HasGeo() {
		t.Fatal("expected decoded coordinates")
	}
	if math.Abs(*res.Latitude-40.446333) > 1e-5 {
		t.Errorf("latitude = %f, want 40.446333", *res.Latitude)
	}
	if math.Abs(*res.Longitude-(-74.006)) > 1e-5 {
		t.Errorf("longitude = %f, want -74.006", *res.Longitude)
	}
}

func TestExtractGPSRawTagFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "partial.tiff", buildTIFF(false))

	res := New().Extract(path)

	if !res.HasGeo() {
		t.Fatal("raw GPS tags should be recovered when the combined accessor fails")
	}
	// Missing latitude ref defaults to the northern hemisphere
	if math.Abs(*res.Latitude-40.446333) > 1e-5 {
		t.Errorf("latitude = %f, want 40.446333", *res.Latitude)
	}
	if math.Abs(*res.Longitude-(-74.006)) > 1e-5 {
		t.Errorf("longitude = %f, want -74.006", *res.Longitude)
	}
}

func TestExtractUnreadableFileYieldsPathOnly(t *testing.T) {
	e := New()
	res := e.Extract(filepath.Join(t.TempDir(), "gone.jpg"))

	if res.Path == "" || res.Filename != "gone.jpg" {
		t.Errorf("path-only result should keep identity: %+v", res)
	}
	if res.Fingerprint != "" || res.TakenAt != nil || res.HasGeo() {
		t.Errorf("unreadable file should have no metadata: %+v", res)
	}
}

func TestExtractNoEXIFFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plain.jpg", []byte("not a real jpeg"))

	mt := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}

	res := New().Extract(path)

	if res.Fingerprint == "" {
		t.Error("expected fingerprint even without EXIF")
	}
	if res.TakenAt == nil {
		t.Fatal("expected modification-time fallback")
	}
	if !res.TakenAt.Equal(mt) {
		t.Errorf("TakenAt = %v, want %v", res.TakenAt, mt)
	}
	if res.HasGeo() {
		t.Error("no coordinates expected from a plain file")
	}
}

func TestExtractFingerprintOnlyFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "raw.nef", []byte("raw sensor data"))

	res := New().Extract(path)

	if res.Fingerprint == "" {
		t.Error("fingerprint-only formats must still be fingerprinted")
	}
	if res.TakenAt == nil {
		t.Error("fingerprint-only formats fall back to the file timestamp")
	}
	if res.HasGeo() {
		t.Error("no metadata decoding for fingerprint-only formats")
	}
}

func TestExtractOversizedFileShortCircuits(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.jpg", []byte("pretend this is huge"))

	e := New()
	e.MaxFileSize = 5 // bytes

	res := e.Extract(path)
	if res.Fingerprint == "" {
		t.Error("oversized files must still be fingerprinted")
	}
	if res.HasGeo() {
		t.Error("oversized files skip metadata decoding")
	}
}

func TestMarkerData(t *testing.T) {
	taken := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)
	res := Result{Filename: "pi.jpg", TakenAt: &taken}

	var payload struct {
		PopupText    string `json:"popup_text"`
		ClusterGroup string `json:"cluster_group"`
		HasThumbnail bool   `json:"has_thumbnail"`
	}
	if err := json.Unmarshal([]byte(res.MarkerData()), &payload); err != nil {
		t.Fatalf("marker data is not valid JSON: %v", err)
	}

	if payload.PopupText != "pi.jpg" {
		t.Errorf("popup_text = %q, want pi.jpg", payload.PopupText)
	}
	if payload.ClusterGroup != "2021-03" {
		t.Errorf("cluster_group = %q, want 2021-03", payload.ClusterGroup)
	}
	if payload.HasThumbnail {
		t.Error("has_thumbnail should default to false")
	}
}

func TestMarkerDataUnknownGroup(t *testing.T) {
	res := Result{Filename: "mystery.jpg"}

	var payload map[string]any
	if err := json.Unmarshal([]byte(res.MarkerData()), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["cluster_group"] != "unknown" {
		t.Errorf("cluster_group = %v, want unknown", payload["cluster_group"])
	}
}

func TestExtractAll(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 5)
	for i := range paths {
		paths[i] = writeFile(t, dir, string(rune('a'+i))+".jpg", []byte{byte(i), 1, 2, 3})
	}

	results := New().ExtractAll(context.Background(), paths, 3)

	if len(results) != len(paths) {
		t.Fatalf("expected %d results, got %d", len(paths), len(results))
	}
	// Order matches input
	for i, r := range results {
		if r.Path != paths[i] {
			t.Errorf("results[%d].Path = %s, want %s", i, r.Path, paths[i])
		}
		if r.Fingerprint == "" {
			t.Errorf("missing fingerprint for %s", r.Path)
		}
	}
}

func TestExtractAllEmpty(t *testing.T) {
	if results := New().ExtractAll(context.Background(), nil, 4); results != nil {
		t.Errorf("expected nil for empty input, got %v", results)
	}
}
