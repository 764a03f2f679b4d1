package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PolicyWatcher monitors the cache TTL policy file and invokes the supplied
// callback whenever the table changes. Stop must be called to release
// filesystem resources.
type PolicyWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *PolicyWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// LoadTTLPolicy reads the per-entity TTL table from the configured policy
// file. The file maps entity type names to TTL seconds and may be yaml, json,
// or toml.
func LoadTTLPolicy(path string) (map[string]int, error) {
	parser, err := ParserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: load ttl policy %s: %w", path, err)
	}
	var table map[string]int
	if err := k.Unmarshal("", &table); err != nil {
		return nil, fmt.Errorf("config: unmarshal ttl policy %s: %w", path, err)
	}
	for entity, ttl := range table {
		if ttl <= 0 {
			return nil, fmt.Errorf("config: ttl policy %s: entity %s invalid ttl %d", path, entity, ttl)
		}
	}
	return table, nil
}

// WatchTTLPolicy wires fsnotify around the cache policy file and reloads the
// TTL table on any relevant change. The initial table is delivered through
// onChange before WatchTTLPolicy returns.
func (l *Loader) WatchTTLPolicy(ctx context.Context, path string, onChange func(map[string]int), onError func(error)) (*PolicyWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch ttl policy requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no ttl policy file configured for watching")
	}

	resolved := path
	if abs, err := filepath.Abs(path); err == nil {
		resolved = abs
	}
	resolved = filepath.Clean(resolved)
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("config: stat ttl policy %s: %w", resolved, err)
	}

	table, err := LoadTTLPolicy(resolved)
	if err != nil {
		return nil, err
	}
	onChange(table)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch ttl policy: %w", err)
	}
	// Watch the directory so editors that replace the file via rename are
	// still observed.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(resolved), err)
	}

	done := make(chan struct{})
	watch := &PolicyWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch ttl policy close: %w", err))
			}
		}()

		reload := func() {
			table, err := LoadTTLPolicy(resolved)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(table)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: ttl policy file %s removed", resolved))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
