// Package fsutil wraps filesystem operations with retry logic for NFS
// stale file handle errors, which large photo trees on network mounts
// hit routinely mid-scan.
package fsutil

import (
	"errors"
	"os"
	"syscall"
	"time"

	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// isStaleHandle checks for ESTALE, the one filesystem error worth
// retrying; everything else propagates to the caller.
func isStaleHandle(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}
	return false
}

// retry runs op with backoff on stale handle errors.
func retry(operation string, config RetryConfig, op func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				logging.Info("%s succeeded on retry %d", operation, attempt)
			}
			return nil
		}

		lastErr = err
		if !isStaleHandle(err) {
			return err
		}

		if attempt < config.MaxRetries {
			metrics.FilesystemRetriesTotal.WithLabelValues(operation).Inc()
			logging.Debug("%s stale file handle, retrying in %v (attempt %d/%d)",
				operation, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("%s failed after %d retries: %v", operation, config.MaxRetries, lastErr)
	return lastErr
}

// Stat performs os.Stat with the default retry policy.
func Stat(path string) (os.FileInfo, error) {
	return StatWithConfig(path, DefaultRetryConfig())
}

// StatWithConfig performs os.Stat with retry on stale NFS handles.
func StatWithConfig(path string, config RetryConfig) (os.FileInfo, error) {
	var info os.FileInfo
	err := retry("stat", config, func() error {
		var err error
		info, err = os.Stat(path)
		return err
	})
	return info, err
}

// Open performs os.Open with the default retry policy.
func Open(path string) (*os.File, error) {
	return OpenWithConfig(path, DefaultRetryConfig())
}

// OpenWithConfig performs os.Open with retry on stale NFS handles.
func OpenWithConfig(path string, config RetryConfig) (*os.File, error) {
	var f *os.File
	err := retry("open", config, func() error {
		var err error
		f, err = os.Open(path)
		return err
	})
	return f, err
}

// ReadDir performs os.ReadDir with the default retry policy.
func ReadDir(path string) ([]os.DirEntry, error) {
	var entries []os.DirEntry
	err := retry("readdir", DefaultRetryConfig(), func() error {
		var err error
		entries, err = os.ReadDir(path)
		return err
	})
	return entries, err
}
