// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ShaderWatcher watches shader source directories and triggers a
// hot-reload when any shader file changes: the binary cache is cleared
// and the callback runs on the main loop's next check.  Recompile
// failures on the reload path are logged and the previous pipelines
// stay active, rather than being fatal like construction-time errors.
type ShaderWatcher struct {

	// called (from the main loop via Poll) after the cache is cleared
	OnReload func()

	watcher *fsnotify.Watcher

	// set by the watch goroutine, consumed by Poll
	pending chan struct{}

	done chan struct{}
}

// NewShaderWatcher watches the given directories.  The underlying
// watcher is not recursive, so each directory of interest must be
// listed.
func NewShaderWatcher(dirs []string, onReload func()) (*ShaderWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &ShaderWatcher{
		OnReload: onReload,
		watcher:  w,
		pending:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	go sw.run()
	return sw, nil
}

func (sw *ShaderWatcher) run() {
	// coalesce event bursts from editors writing multiple files
	var timer *time.Timer
	fire := func() {
		select {
		case sw.pending <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, isShader := shaderExts[filepath.Ext(ev.Name)]; !isShader {
				if filepath.Ext(ev.Name) != ".glsl" {
					continue
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, fire)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("vkray.ShaderWatcher: %v\n", err)
		}
	}
}

// Poll runs the reload callback on the calling goroutine if a shader
// change is pending.  Call once per frame from the main loop, between
// frames so no stage is mid-record.
func (sw *ShaderWatcher) Poll() {
	select {
	case <-sw.pending:
		ClearShaderCache()
		if sw.OnReload != nil {
			sw.OnReload()
		}
	default:
	}
}

// Close stops watching.
func (sw *ShaderWatcher) Close() {
	close(sw.done)
	sw.watcher.Close()
}
