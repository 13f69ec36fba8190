package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

// reloadDelay absorbs the burst of events editors produce for one save.
const reloadDelay = 150 * time.Millisecond

// Watch calls fn with the reloaded configuration, environment overrides
// applied, each time the file at path changes. Invalid edits are logged and
// skipped. The directory is watched rather than the file so that editors
// which replace the file on save keep working. Watch returns when ctx is
// done.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			reload = timer.C
		case <-reload:
			reload = nil
			cfg, err := Load(abs)
			if err == nil {
				err = ApplyEnv(&cfg)
			}
			if err != nil {
				log.Warnf("CONFIG: reload of %s skipped: %v", abs, err)
				continue
			}
			log.Infof("CONFIG: reloaded %s", abs)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("CONFIG: watcher error: %v", err)
		}
	}
}
