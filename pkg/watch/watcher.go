// Package watch monitors the dataset folders for files arriving outside the
// upload endpoint, so recordings copied in by hand still show up and pair
// with their label files.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher reports dataset and label files appearing in the watched
// folders. Events are debounced so a file still being copied fires once,
// after its size settles.
type DirWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	datasetDir string
	labelsDir  string
	allowed    map[string]bool

	// OnDataset fires when a new or rewritten dataset file settles.
	OnDataset func(name string)
	// OnLabels fires for label files; name is relative to the labels folder.
	OnLabels func(name string)
	// OnError receives watch failures. Optional.
	OnError func(err error)
}

// NewDirWatcher watches datasetDir and labelsDir. Files with an extension
// outside allowed are ignored in the dataset folder; the labels folder
// accepts anything.
func NewDirWatcher(datasetDir, labelsDir string, allowed map[string]bool) (*DirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &DirWatcher{
		watcher:    fsw,
		debounce:   500 * time.Millisecond,
		timers:     make(map[string]*time.Timer),
		datasetDir: filepath.Clean(datasetDir),
		labelsDir:  filepath.Clean(labelsDir),
		allowed:    allowed,
	}

	for _, dir := range []string{w.datasetDir, w.labelsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("prepare %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run processes events until the context is cancelled.
func (w *DirWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.interesting(path) {
				continue
			}
			w.schedule(path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}

// schedule (re)arms the debounce timer for a path. The entry is removed when
// the timer fires, so the map only holds paths still settling.
func (w *DirWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, exists := w.timers[path]; exists {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.settle(path)
	})
}

func (w *DirWatcher) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *DirWatcher) interesting(path string) bool {
	dir := filepath.Dir(path)
	if dir == w.labelsDir {
		return true
	}
	if dir != w.datasetDir {
		return false
	}
	return w.allowed[strings.ToLower(filepath.Ext(path))]
}

// settle waits for the file size to stop changing before firing, so a
// multi-gigabyte copy in progress does not trigger a partial load.
func (w *DirWatcher) settle(path string) {
	var lastSize int64 = -1
	for i := 0; i < 60; i++ {
		stat, err := os.Stat(path)
		if err != nil {
			return
		}
		if stat.Size() == lastSize {
			w.fire(path)
			return
		}
		lastSize = stat.Size()
		time.Sleep(w.debounce)
	}
	if w.OnError != nil {
		w.OnError(fmt.Errorf("%s still growing after settle window", filepath.Base(path)))
	}
}

func (w *DirWatcher) fire(path string) {
	name := filepath.Base(path)
	if filepath.Dir(path) == w.labelsDir {
		if w.OnLabels != nil {
			w.OnLabels(name)
		}
		return
	}
	if w.OnDataset != nil {
		w.OnDataset(name)
	}
}

// Close stops the watcher.
func (w *DirWatcher) Close() error {
	return w.watcher.Close()
}

// MatchDataset pairs a label filename with a dataset from the catalog by
// stem: "rec012_spikes.json" matches "rec012.bin". Returns "" when nothing
// matches unambiguously.
func MatchDataset(labelName string, datasets []string) string {
	stem := strings.TrimSuffix(labelName, filepath.Ext(labelName))
	for _, suffix := range []string{"_spikes", "_labels", "_spike_times"} {
		stem = strings.TrimSuffix(stem, suffix)
	}

	var match string
	for _, ds := range datasets {
		if strings.TrimSuffix(ds, filepath.Ext(ds)) == stem {
			if match != "" {
				return ""
			}
			match = ds
		}
	}
	return match
}
