// Package imageformats classifies image files by extension.
package imageformats

import (
	"path/filepath"
	"strings"
)

// Extensions maps supported image file extensions to whether the
// pipeline indexes them. Extensions are lowercase with the leading dot.
var Extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".tiff": true,
	".bmp":  true,
	".nef":  true,
	".cr2":  true,
	".arw":  true,
	".dng":  true,
}

// FingerprintOnly maps extensions that enter the index as path-known
// records without a metadata decode attempt. Raw camera formats and
// HEIC need codecs the extractor does not carry; indexing them anyway
// prevents repeated re-scan attempts on every run.
var FingerprintOnly = map[string]bool{
	".heic": true,
	".nef":  true,
	".cr2":  true,
	".arw":  true,
	".dng":  true,
}

// Ext returns the lowercase extension of a filename, including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsImage returns true if the filename has a supported image extension.
func IsImage(name string) bool {
	return Extensions[Ext(name)]
}

// IsFingerprintOnly returns true if the filename's format is indexed
// without metadata extraction.
func IsFingerprintOnly(name string) bool {
	return FingerprintOnly[Ext(name)]
}
