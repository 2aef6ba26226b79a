// Package config provides the persistent settings store: a single JSON, YAML
// or TOML file read as a flat key/value map.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// Store is a file-backed key/value settings store. Values are stored in the
// file's native encoding and handed to callers through JSON, so any type
// with JSON tags can be read and written.
type Store struct {
	path   string
	format Format

	mu     sync.RWMutex
	values map[string]any
	raw    []byte
}

// Open loads the settings file at path. A missing file is an empty store;
// it is created on the first Set.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		format: FormatFor(path),
		values: map[string]any{},
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Reload rereads the backing file.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.values = map[string]any{}
		s.raw = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	values, err := decode(s.format, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values = values
	s.raw = data
	s.mu.Unlock()
	L_debug("config: loaded", "path", s.path, "format", s.format, "keys", len(values))
	return nil
}

// Get decodes the value stored under key into out. It reports false when
// the key is absent, leaving out untouched.
func (s *Store) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("config: encode %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("config: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key and persists the file. A nil value removes
// the key.
func (s *Store) Set(key string, value any) error {
	var generic any
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("config: encode %q: %w", key, err)
		}
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("config: normalise %q: %w", key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]any, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	if generic == nil {
		delete(next, key)
	} else {
		next[key] = generic
	}

	data, err := encode(s.format, next)
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	if err := writeWithBackup(s.path, s.raw, data, DefaultBackupCount); err != nil {
		return err
	}
	s.values = next
	s.raw = data
	return nil
}

// Watch reloads the store when the file changes on disk and calls onChange
// after each successful reload. Writes made through Set do not trigger
// onChange. Watching stops when ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// watch the directory, editors often replace files instead of writing them
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	L_debug("config: watching", "path", s.path)
	go s.watchLoop(ctx, watcher, onChange)
	return nil
}

const watchDebounce = 150 * time.Millisecond

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer watcher.Close()

	target := filepath.Base(s.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if s.reloadIfChanged() && onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watcher error", "error", err)
		}
	}
}

func (s *Store) reloadIfChanged() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.RLock()
	same := bytes.Equal(data, s.raw)
	s.mu.RUnlock()
	if same {
		return false
	}
	if err := s.Reload(); err != nil {
		L_warn("config: reload failed", "path", s.path, "error", err)
		return false
	}
	L_info("config: reloaded", "path", s.path)
	return true
}
