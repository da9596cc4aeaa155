package dataset

import (
	"os"
	"path/filepath"
	"strings"
)

// Detect resolves a format from the file path. Tensor containers with an
// existing cache pair are promoted to FormatMapped so loads skip the full
// container parse.
func Detect(path string) Format {
	if mapped, _ := CachePair(path); mapped != "" {
		if _, err := os.Stat(mapped); err == nil {
			return FormatMapped
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".dat", ".raw":
		return FormatBinary
	case ".arrow", ".arrows", ".feather":
		return FormatTensor
	case ".npy":
		if strings.HasSuffix(path, cacheSuffix) {
			return FormatMapped
		}
	}
	return FormatUnknown
}

const (
	cacheSuffix = "_mmap.npy"
	shapeSuffix = "_shape.txt"
)

// CachePair returns the cache buffer and shape sidecar paths for a dataset
// path. For a tensor container the pair sits next to it; a cache buffer path
// maps to itself.
func CachePair(path string) (buffer, shape string) {
	if strings.HasSuffix(path, cacheSuffix) {
		base := strings.TrimSuffix(path, cacheSuffix)
		return path, base + shapeSuffix
	}
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".arrow", ".arrows", ".feather":
		base := strings.TrimSuffix(path, ext)
		return base + cacheSuffix, base + shapeSuffix
	}
	return "", ""
}

// AllowedExtensions lists the dataset file extensions the catalog exposes.
var AllowedExtensions = map[string]bool{
	".bin":     true,
	".dat":     true,
	".raw":     true,
	".arrow":   true,
	".arrows":  true,
	".feather": true,
	".npy":     true,
}
