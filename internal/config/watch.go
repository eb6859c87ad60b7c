// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// DefaultWatchDebounce coalesces the burst of events an editor save produces.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config, error)

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// Watch starts watching path. onChange receives the reloaded configuration,
// or the error that prevented loading it. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func Watch(path string, debounce time.Duration, onChange func(*Config, error)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onChange(nil, errors.Wrap(err, "watch config"))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	cfg, err := LoadFromPath(w.path)
	w.onChange(cfg, err)
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}
