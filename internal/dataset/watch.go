package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the source CSVs of a set of descriptors and re-binarizes a
// channel when its CSV changes on disk, so long-running processes pick up
// freshly downloaded market data without a restart.
type Watcher struct {
	fw    *fsnotify.Watcher
	byCSV map[string]Descriptor
}

// NewWatcher creates a watcher over the given descriptors.
func NewWatcher(descs []Descriptor) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dataset: fsnotify: %w", err)
	}
	byCSV := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		abs, err := filepath.Abs(d.CSVPath)
		if err != nil {
			abs = d.CSVPath
		}
		byCSV[abs] = d
	}
	return &Watcher{fw: fw, byCSV: byCSV}, nil
}

// Watch adds every descriptor's directory to the watch list and begins
// processing events. It blocks until ctx is cancelled or an unrecoverable
// error occurs. Call this in a goroutine.
func (w *Watcher) Watch(ctx context.Context) error {
	dirs := make(map[string]bool)
	for csv := range w.byCSV {
		dir := filepath.Dir(csv)
		if dirs[dir] {
			continue
		}
		if err := w.fw.Add(dir); err != nil {
			return fmt.Errorf("dataset: watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	// Debounce map: path→timer, so rapid partial writes collapse into one
	// re-binarization.
	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			path := event.Name
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			d, tracked := w.byCSV[path]
			if !tracked {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if t, ok := pending[path]; ok {
					t.Stop()
				}
				pending[path] = time.AfterFunc(500*time.Millisecond, func() {
					fmt.Fprintf(os.Stderr, "[watch] re-binarizing %s\n", d.CSVPath)
					if err := Binarize(ctx, d, true); err != nil {
						fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
					}
				})
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
		}
	}
}
