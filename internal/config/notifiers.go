package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"watchhound/internal/notify"
)

// NotifierFile is the declarative sink list loaded from YAML.
type NotifierFile struct {
	Notifiers []notify.Spec `yaml:"notifiers"`
}

// LoadNotifierFile parses a notifiers YAML file.
func LoadNotifierFile(path string) (*NotifierFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notifier file: %w", err)
	}
	var nf NotifierFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return nil, fmt.Errorf("parse notifier file %s: %w", path, err)
	}
	for i, spec := range nf.Notifiers {
		if spec.Name == "" {
			return nil, fmt.Errorf("notifier file %s: entry %d has no name", path, i)
		}
	}
	return &nf, nil
}

// WatchNotifierFile watches the file and calls onChange with each
// successfully reloaded version. A version that fails to parse is
// logged and dropped, keeping the previous sink set live. Editors that
// replace the file (rename-over-write) are handled by re-adding the
// watch on the parent directory.
func WatchNotifierFile(ctx context.Context, path string, onChange func(*NotifierFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	reload := func() {
		nf, err := LoadNotifierFile(path)
		if err != nil {
			log.Printf("config: reload failed, keeping previous notifiers: %v", err)
			return
		}
		log.Printf("config: reloaded %d notifier(s) from %s", len(nf.Notifiers), path)
		onChange(nf)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
