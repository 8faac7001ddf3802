// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER INTERFACE
// =============================================================================

// ReloadFunc is invoked with the freshly loaded config after a reload.
type ReloadFunc func(*Config)

// Watcher is the interface for config file watching implementations.
type Watcher interface {
	// Watch starts watching for config changes
	Watch() error

	// Close stops watching and releases resources
	Close() error
}

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// FileWatcher implements Watcher using fsnotify.
//
// It watches the config file's parent directory rather than the file itself:
// editors and atomic writers replace the file (rename + create), which would
// otherwise silently detach a per-file watch.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending time.Time // zero when no change is pending
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewFileWatcher creates a new fsnotify-based config watcher.
func NewFileWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	fw := &FileWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onReload: onReload,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}

	return fw, nil
}

// Watch starts watching for config changes.
func (fw *FileWatcher) Watch() error {
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}

	go fw.processEvents()
	go fw.processPending()

	return nil
}

// processEvents processes file system events.
func (fw *FileWatcher) processEvents() {
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// Only the config file itself is of interest
			if filepath.Clean(event.Name) != fw.path {
				continue
			}

			// Write, Create and Rename all show up depending on how the
			// editor saves; treat any of them as a change.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				fw.mu.Lock()
				fw.pending = time.Now()
				fw.mu.Unlock()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error (non-fatal)
			log.Printf("config: watch error: %v", err)
		}
	}
}

// processPending fires a debounced reload once changes settle.
func (fw *FileWatcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case <-ticker.C:
			fw.mu.Lock()
			fire := !fw.pending.IsZero() && time.Since(fw.pending) >= fw.debounce
			if fire {
				fw.pending = time.Time{}
			}
			fw.mu.Unlock()

			if fire {
				reloadConfig(fw.path, fw.onReload)
			}
		}
	}
}

// Close stops watching and releases resources.
func (fw *FileWatcher) Close() error {
	fw.cancel()
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}

// =============================================================================
// POLLING WATCHER (FALLBACK)
// =============================================================================

// PollWatcher implements Watcher using periodic stat polling.
type PollWatcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

// NewPollWatcher creates a new polling-based config watcher.
func NewPollWatcher(path string, interval time.Duration, onReload ReloadFunc) *PollWatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &PollWatcher{
		path:     filepath.Clean(path),
		interval: interval,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch starts watching for config changes.
func (pw *PollWatcher) Watch() error {
	// Record the starting state; a missing file is fine, the first
	// appearance then counts as a change.
	if info, err := os.Stat(pw.path); err == nil {
		pw.mu.Lock()
		pw.modTime = info.ModTime()
		pw.size = info.Size()
		pw.mu.Unlock()
	}

	go pw.poll()

	return nil
}

// poll periodically checks the config file for changes.
func (pw *PollWatcher) poll() {
	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return

		case <-ticker.C:
			pw.checkChange()
		}
	}
}

// checkChange compares the file's mod time and size against the last poll.
func (pw *PollWatcher) checkChange() {
	info, err := os.Stat(pw.path)
	if err != nil {
		return
	}

	pw.mu.Lock()
	changed := !info.ModTime().Equal(pw.modTime) || info.Size() != pw.size
	if changed {
		pw.modTime = info.ModTime()
		pw.size = info.Size()
	}
	pw.mu.Unlock()

	if changed {
		reloadConfig(pw.path, pw.onReload)
	}
}

// Close stops watching.
func (pw *PollWatcher) Close() error {
	pw.cancel()
	return nil
}

// =============================================================================
// WATCHER FACTORY
// =============================================================================

// reloadConfig reloads the config file, updates the global instance and
// notifies the callback. Load failures keep the previous config in place.
func reloadConfig(path string, onReload ReloadFunc) {
	cfg, err := LoadFromPath(path)
	if err != nil {
		log.Printf("config: reload failed, keeping previous config: %v", err)
		return
	}

	SetGlobal(cfg)
	if onReload != nil {
		onReload(cfg)
	}
}

// StartWatcher starts a config watcher (fsnotify with a polling fallback).
func StartWatcher(path string, debounce time.Duration, onReload ReloadFunc) (Watcher, error) {
	// Try fsnotify first
	fw, err := NewFileWatcher(path, debounce, onReload)
	if err == nil {
		if err := fw.Watch(); err == nil {
			return fw, nil
		}
		fw.Close()
	}

	// Fallback to polling
	pw := NewPollWatcher(path, 5*time.Second, onReload)
	if err := pw.Watch(); err != nil {
		return nil, err
	}

	return pw, nil
}
