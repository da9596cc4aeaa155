package mappings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// FileBackend stores the mapping as one JSON object on disk, the format the
// labels directory has always carried.
type FileBackend struct {
	path string
}

// NewFileBackend creates the parent directory if needed.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &FileBackend{path: path}, nil
}

func (b *FileBackend) Load(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *FileBackend) Save(ctx context.Context, m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tempPath := b.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, b.path)
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) Close() error {
	return nil
}
