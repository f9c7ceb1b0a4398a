// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of edits to
// settle before re-indexing.
const DefaultDebounce = 2 * time.Second

// Watcher triggers a callback when documents under a directory change.
//
// # Description
//
// Writes, creates, removes and renames of indexable files are coalesced
// over the debounce window into a single call to onChange. New
// subdirectories are watched as they appear.
type Watcher struct {
	root       string
	extensions []string
	debounce   time.Duration
	onChange   func(ctx context.Context) error
	watcher    *fsnotify.Watcher
}

// NewWatcher watches root recursively.
//
// # Inputs
//
//   - root: Directory to watch.
//   - debounce: Quiet period before onChange runs. Zero means DefaultDebounce.
//   - onChange: Called once per settled burst of changes.
//
// # Outputs
//
//   - *Watcher: Call Run to start delivering events.
//   - error: Non-nil if the directory cannot be watched.
func NewWatcher(root string, debounce time.Duration, onChange func(ctx context.Context) error) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{
		root:       root,
		extensions: DefaultExtensions,
		debounce:   debounce,
		onChange:   onChange,
		watcher:    fw,
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// relevant reports whether an event should trigger a re-index.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return hasExtension(event.Name, w.extensions)
}

// Run delivers events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						slog.Warn("Could not watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if !w.relevant(event) {
				continue
			}
			stopTimer()
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "root", w.root, "error", err)

		case <-fire:
			fire = nil
			slog.Info("Knowledge documents changed, re-indexing", "root", w.root)
			if err := w.onChange(ctx); err != nil {
				slog.Error("Re-index failed", "root", w.root, "error", err)
			}
		}
	}
}
