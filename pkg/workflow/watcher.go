// Copyright 2025 Edson Martins
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the engine's registry in sync with a directory of YAML
// workflow definitions. Files are loaded on start, reloaded on change
// and unregistered on removal. A definition that fails to parse or
// validate is logged and skipped; the previous registration stays.
type Watcher struct {
	engine   *Engine
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	byPath   map[string]string // file path -> workflow id
	watching bool
	cancel   context.CancelFunc
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the 100ms event coalescing delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the given definitions directory.
func NewWatcher(engine *Engine, dir string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating definitions watcher: %w", err)
	}
	w := &Watcher{
		engine:   engine,
		dir:      dir,
		debounce: 100 * time.Millisecond,
		watcher:  fw,
		byPath:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads every definition in the directory, then begins watching
// for changes. It returns the ids of the initially loaded workflows.
func (w *Watcher) Start(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil, fmt.Errorf("watcher already started")
	}

	loaded, err := w.loadAll()
	if err != nil {
		return nil, err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching %s: %w", w.dir, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.watching = true
	go w.watchEvents(ctx)

	slog.Info("Watching workflow definitions", "dir", w.dir, "loaded", len(loaded))
	return loaded, nil
}

// Stop stops watching. Registered workflows are left in place.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false
	return w.watcher.Close()
}

func (w *Watcher) loadAll() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !isDefinition(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		id, err := w.load(path)
		if err != nil {
			slog.Warn("Skipping workflow definition", "path", path, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// load parses the file and registers (or replaces) its workflow.
func (w *Watcher) load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return "", err
	}
	wf, err := doc.Workflow()
	if err != nil {
		return "", err
	}
	if err := w.engine.Reload(wf); err != nil {
		return "", err
	}
	w.byPath[path] = wf.ID
	return wf.ID, nil
}

func (w *Watcher) watchEvents(ctx context.Context) {
	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex
	var debounceTimer *time.Timer

	processEvents := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Event)
		pendingMu.Unlock()

		for _, event := range events {
			w.handleEvent(event)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if !isDefinition(event.Name) {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = event
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, processEvents)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Definitions watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		id, err := w.load(event.Name)
		if err != nil {
			slog.Warn("Ignoring workflow definition change", "path", event.Name, "error", err)
			return
		}
		slog.Info("Workflow definition loaded", "path", event.Name, "workflow", id)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		id, known := w.byPath[event.Name]
		if !known {
			return
		}
		delete(w.byPath, event.Name)
		if _, err := w.engine.Unregister(id); err != nil {
			slog.Warn("Unregistering removed workflow", "workflow", id, "error", err)
			return
		}
		slog.Info("Workflow definition removed", "path", event.Name, "workflow", id)
	}
}

func isDefinition(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
