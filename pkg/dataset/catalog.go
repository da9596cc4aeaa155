package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry describes one dataset file available for loading.
type Entry struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
}

// Catalog lists loadable dataset files in a directory. Label files and cache
// sidecars are not datasets and are excluded; cache buffers are listed only
// when their source container is absent.
func Catalog(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !AllowedExtensions[ext] {
			continue
		}
		if strings.HasSuffix(name, shapeSuffix) {
			continue
		}
		if strings.HasSuffix(name, cacheSuffix) {
			// Hidden behind its source container when both exist.
			base := strings.TrimSuffix(name, cacheSuffix)
			if hasContainer(dir, base) {
				continue
			}
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:          name,
			Size:          info.Size(),
			SizeFormatted: FormatBytes(info.Size()),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func hasContainer(dir, base string) bool {
	for _, ext := range []string{".arrow", ".arrows", ".feather"} {
		if _, err := os.Stat(filepath.Join(dir, base+ext)); err == nil {
			return true
		}
	}
	return false
}

// FormatBytes renders a byte count for display.
func FormatBytes(b int64) string {
	size := float64(b)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024.0 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.2f PB", size)
}
