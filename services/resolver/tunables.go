// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCases/services/resolver/engine"
)

// tunablesFile is the on-disk shape of the tunables document. Pointer
// fields distinguish an absent key (keep the current value) from an
// explicit zero.
type tunablesFile struct {
	ScoreThreshold *float64 `yaml:"score_threshold"`
	RadiusMeters   *float64 `yaml:"radius_meters"`
	SearchLimit    *int     `yaml:"search_limit"`
}

// TunablesWatcher serves the effective resolution tunables and reloads
// them when the backing YAML file changes.
//
// # Description
//
// Holds the current tunables behind an atomic pointer so readers never
// block. When constructed with a file path, a background fsnotify
// watcher reloads the file on write or create events; invalid documents
// are logged and the previous values stay in effect.
//
// # Thread Safety
//
// Safe for concurrent use.
type TunablesWatcher struct {
	current atomic.Pointer[engine.Tunables]

	path     string
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewTunablesWatcher starts with the given defaults and, when path is
// non-empty, overlays the file and watches it for changes.
func NewTunablesWatcher(path string, defaults engine.Tunables) (*TunablesWatcher, error) {
	w := &TunablesWatcher{
		path: path,
		done: make(chan struct{}),
	}
	w.current.Store(&defaults)

	if path == "" {
		return w, nil
	}

	if err := w.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load tunables from %s: %w", path, err)
		}
		slog.Info("tunables file not found, using defaults", "path", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create tunables watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch tunables directory: %w", err)
	}
	w.watcher = watcher

	go w.watch()

	return w, nil
}

// Current returns the effective tunables.
func (w *TunablesWatcher) Current() engine.Tunables {
	return *w.current.Load()
}

// Close stops the reload loop. Safe to call more than once.
func (w *TunablesWatcher) Close() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *TunablesWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.reload(); err != nil {
				slog.Warn("tunables reload failed, keeping previous values",
					"path", w.path, "error", err)
				continue
			}
			t := w.Current()
			slog.Info("tunables reloaded",
				"score_threshold", t.ScoreThreshold,
				"radius_meters", t.RadiusMeters,
				"search_limit", t.SearchLimit)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("tunables watcher error", "error", err)
		}
	}
}

// reload reads and validates the file, then swaps the current values.
func (w *TunablesWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	var doc tunablesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid tunables document: %w", err)
	}

	next := w.Current()
	if doc.ScoreThreshold != nil {
		if *doc.ScoreThreshold < 0 || *doc.ScoreThreshold > 1 {
			return fmt.Errorf("score_threshold must be between 0 and 1, got %v", *doc.ScoreThreshold)
		}
		next.ScoreThreshold = *doc.ScoreThreshold
	}
	if doc.RadiusMeters != nil {
		if *doc.RadiusMeters < 0 {
			return fmt.Errorf("radius_meters must not be negative, got %v", *doc.RadiusMeters)
		}
		next.RadiusMeters = *doc.RadiusMeters
	}
	if doc.SearchLimit != nil {
		if *doc.SearchLimit < 1 || *doc.SearchLimit > 100 {
			return fmt.Errorf("search_limit must be between 1 and 100, got %d", *doc.SearchLimit)
		}
		next.SearchLimit = *doc.SearchLimit
	}

	w.current.Store(&next)
	return nil
}
