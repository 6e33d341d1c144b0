package fingerprint

import (
	"bytes"
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

func TestFileStable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", []byte("identical content"))

	first, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	second, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}

	if first != second {
		t.Errorf("fingerprint not stable: %s != %s", first, second)
	}
	if len(first) != 32 {
		t.Errorf("expected 32-char md5 hex, got %q", first)
	}
}

func TestFileIdenticalContentDifferentPaths(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("photo bytes "), 64)
	a := writeFile(t, dir, "a.jpg", data)
	b := writeFile(t, dir, "b.jpg", data)

	ha, err := File(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := File(b)
	if err != nil {
		t.Fatal(err)
	}

	if ha != hb {
		t.Error("byte-identical files should share a fingerprint regardless of path")
	}
}

func TestFileLargeUsesSampledWindows(t *testing.T) {
	dir := t.TempDir()

	// Two files larger than 2*SampleSize that differ only in the
	// middle hash identically; a difference inside a window is seen.
	base := bytes.Repeat([]byte{0xAA}, 3*SampleSize)

	middleChanged := append([]byte(nil), base...)
	middleChanged[SampleSize+100] = 0xBB

	tailChanged := append([]byte(nil), base...)
	tailChanged[len(tailChanged)-10] = 0xCC

	pBase := writeFile(t, dir, "base.jpg", base)
	pMid := writeFile(t, dir, "mid.jpg", middleChanged)
	pTail := writeFile(t, dir, "tail.jpg", tailChanged)

	hBase, err := File(pBase)
	if err != nil {
		t.Fatal(err)
	}
	hMid, err := File(pMid)
	if err != nil {
		t.Fatal(err)
	}
	hTail, err := File(pTail)
	if err != nil {
		t.Fatal(err)
	}

	if hBase != hMid {
		t.Error("change outside sampled windows should not alter fingerprint")
	}
	if hBase == hTail {
		t.Error("change inside tail window should alter fingerprint")
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "gone.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCacheMemoizes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", []byte("cache me"))

	cache := NewCache(0)

	h1, err := cache.File(path)
	if err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 cached entry, got %d", cache.Len())
	}

	h2, err := cache.File(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("cached fingerprint differs from computed one")
	}
}

func TestCacheInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", []byte("before"))

	cache := NewCache(0)
	before, err := cache.File(path)
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite with different content and a different mtime
	if err := os.WriteFile(path, []byte("after, longer content"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	after, err := cache.File(path)
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Error("cache returned stale fingerprint after file changed")
	}
}

func TestCacheBounded(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(2)

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		path := writeFile(t, dir, name, []byte(name))
		if _, err := cache.File(path); err != nil {
			t.Fatal(err)
		}
	}

	if cache.Len() > 2 {
		t.Errorf("cache exceeded bound: %d entries", cache.Len())
	}
}

func BenchmarkFileSmall(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "small.jpg")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 4096), 0o644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := File(path); err != nil {
			b.Fatal(err)
		}
	}
}
