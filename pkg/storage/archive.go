package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	datasetPrefix = "datasets/"
	labelPrefix   = "labels/"
)

// objectStore is the subset of Client the archive needs. Tests substitute an
// in-memory implementation.
type objectStore interface {
	Reader(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Writer(ctx context.Context, key string) io.WriteCloser
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Archive is the shared recording store: dataset files under datasets/,
// label files under labels/, both keyed by filename.
type Archive struct {
	store objectStore
}

// NewArchive wraps a client.
func NewArchive(client *Client) *Archive {
	return &Archive{store: client}
}

// RemoteRecording describes one archived dataset.
type RemoteRecording struct {
	Name         string
	Size         int64
	LastModified time.Time
	HasLabels    bool
}

// Recordings lists archived datasets with their label pairing, sorted by name.
func (a *Archive) Recordings(ctx context.Context) ([]RemoteRecording, error) {
	objects, err := a.store.List(ctx, datasetPrefix)
	if err != nil {
		return nil, err
	}
	labels, err := a.store.List(ctx, labelPrefix)
	if err != nil {
		return nil, err
	}

	labelled := make(map[string]bool, len(labels))
	for _, obj := range labels {
		name := strings.TrimPrefix(obj.Key, labelPrefix)
		labelled[trimExt(name)] = true
	}

	recordings := make([]RemoteRecording, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, datasetPrefix)
		if name == "" {
			continue
		}
		recordings = append(recordings, RemoteRecording{
			Name:         name,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			HasLabels:    labelled[trimExt(name)],
		})
	}
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Name < recordings[j].Name
	})
	return recordings, nil
}

// Fetch downloads a dataset into destDir. The file lands under its archive
// name once fully written; a partial download never replaces an existing
// file. Progress, when non-nil, receives the bytes as they arrive.
func (a *Archive) Fetch(ctx context.Context, name, destDir string, progress io.Writer) (string, error) {
	return a.fetch(ctx, datasetPrefix+name, filepath.Join(destDir, filepath.Base(name)), progress)
}

// LabelName returns the archived label file sharing a dataset's stem,
// "" when the dataset has no labels.
func (a *Archive) LabelName(ctx context.Context, name string) (string, error) {
	labels, err := a.store.List(ctx, labelPrefix)
	if err != nil {
		return "", err
	}
	stem := trimExt(name)
	for _, obj := range labels {
		ln := strings.TrimPrefix(obj.Key, labelPrefix)
		if trimExt(ln) == stem {
			return ln, nil
		}
	}
	return "", nil
}

// FetchLabels downloads a label file into destDir.
func (a *Archive) FetchLabels(ctx context.Context, name, destDir string, progress io.Writer) (string, error) {
	return a.fetch(ctx, labelPrefix+name, filepath.Join(destDir, filepath.Base(name)), progress)
}

func (a *Archive) fetch(ctx context.Context, key, dest string, progress io.Writer) (string, error) {
	reader, _, err := a.store.Reader(ctx, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return "", err
	}

	var src io.Reader = reader
	if progress != nil {
		src = io.TeeReader(reader, progress)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}

// Push uploads a dataset file under its basename.
func (a *Archive) Push(ctx context.Context, path string, progress io.Writer) error {
	return a.push(ctx, datasetPrefix+filepath.Base(path), path, progress)
}

// PushLabels uploads a label file under its basename.
func (a *Archive) PushLabels(ctx context.Context, path string, progress io.Writer) error {
	return a.push(ctx, labelPrefix+filepath.Base(path), path, progress)
}

func (a *Archive) push(ctx context.Context, key, path string, progress io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := a.store.Writer(ctx, key)

	var src io.Reader = f
	if progress != nil {
		src = io.TeeReader(f, progress)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return w.Close()
}

// Size returns the archived size of a dataset.
func (a *Archive) Size(ctx context.Context, name string) (int64, error) {
	info, err := a.store.Stat(ctx, datasetPrefix+name)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Remove deletes a dataset and any label file sharing its stem.
func (a *Archive) Remove(ctx context.Context, name string) error {
	if err := a.store.Delete(ctx, datasetPrefix+name); err != nil {
		return err
	}

	labels, err := a.store.List(ctx, labelPrefix)
	if err != nil {
		return err
	}
	stem := trimExt(name)
	for _, obj := range labels {
		if trimExt(strings.TrimPrefix(obj.Key, labelPrefix)) == stem {
			if err := a.store.Delete(ctx, obj.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
