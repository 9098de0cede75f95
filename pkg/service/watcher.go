package service

import (
	"context"
	"os"
	"path/filepath"

	"github.com/berguner/looper/pkg/models"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// FlagEvent reports a change to one flag file.
type FlagEvent struct {
	Path   string
	Sample string      // Name of the sample folder holding the flag
	Flag   models.Flag // Zero value when the name does not parse
	Op     fsnotify.Op
}

// FlagWatcher notifies about flag files appearing, changing or vanishing
// below a results root. It keeps no status of its own; consumers re-scan.
type FlagWatcher struct {
	root   string
	logger Logger
}

func NewFlagWatcher(resultsRoot string, logger Logger) *FlagWatcher {
	return &FlagWatcher{root: resultsRoot, logger: orNop(logger)}
}

// Watch blocks until ctx ends, calling onChange for every flag event.
// Sample folders created while watching are picked up as they appear.
func (w *FlagWatcher) Watch(ctx context.Context, onChange func(FlagEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return errors.Wrapf(err, "watch %s", w.root)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return errors.Wrapf(err, "list %s", w.root)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := watcher.Add(filepath.Join(w.root, entry.Name())); err != nil {
			return errors.Wrapf(err, "watch sample folder %s", entry.Name())
		}
	}
	w.logger.Infof("Watching %s (%d sample folders)", w.root, len(watcher.WatchList())-1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("Watcher error: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event, onChange)
		}
	}
}

func (w *FlagWatcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event, onChange func(FlagEvent)) {
	dir := filepath.Dir(event.Name)
	if filepath.Clean(dir) == filepath.Clean(w.root) {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := watcher.Add(event.Name); err != nil {
					w.logger.Errorf("Failed to watch new sample folder %s: %v", event.Name, err)
				} else {
					w.logger.Debugf("Watching new sample folder %s", event.Name)
				}
			}
		}
		return
	}
	if filepath.Ext(event.Name) != models.FlagExt {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
		return
	}
	fe := FlagEvent{
		Path:   event.Name,
		Sample: filepath.Base(dir),
		Op:     event.Op,
	}
	if flag, err := models.ParseFlagName(event.Name); err == nil {
		fe.Flag = flag
	}
	w.logger.Tracef("Flag event %s on %s", event.Op, event.Name)
	onChange(fe)
}
