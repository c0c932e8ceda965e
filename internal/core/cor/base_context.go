// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) provides the building blocks for the
// export and frame workflows. This file defines `BaseContext`, the default
// implementation of the `Context` interface.
//
// The context is the property bag passed through a chain: commands read their
// inputs from it and write their outputs back. It also collects errors keyed
// by command name and tracks scratch files and directories so a workflow can
// release them in one Close call. All methods are safe for concurrent use,
// since export commands fan work out to goroutines that report back through
// the same context.
package cor

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// BaseContext is the default implementation of the Context interface.
type BaseContext struct {
	mu        sync.RWMutex
	data      map[string]interface{}
	errors    map[string]error // Keyed by the name of the command that failed.
	tempFiles []string
	tempDirs  []string
	context   context.Context
}

// NewBaseContext returns an empty context.
func NewBaseContext() Context {
	return &BaseContext{
		data:      make(map[string]interface{}),
		errors:    make(map[string]error),
		tempFiles: make([]string, 0),
	}
}

// NewBaseContextWith returns an empty context bound to ctx.
func NewBaseContextWith(ctx context.Context) Context {
	c := NewBaseContext()
	c.SetContext(ctx)
	return c
}

// SetContext sets the underlying Go context. The chain swaps it per command
// so spans nest correctly.
func (c *BaseContext) SetContext(context context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = context
}

// GetContext retrieves the underlying Go context.
func (c *BaseContext) GetContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.context
}

// Close removes every tracked temporary file and directory. Failures are
// logged, not returned.
func (c *BaseContext) Close() {
	c.mu.Lock()
	files, dirs := c.tempFiles, c.tempDirs
	c.tempFiles, c.tempDirs = nil, nil
	c.mu.Unlock()

	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temporary file", "file", file, "error", err)
		}
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove temporary directory", "dir", dir, "error", err)
		}
	}
}

// Add stores a key-value pair and returns the context for chaining.
func (c *BaseContext) Add(key string, value interface{}) Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return c
}

// AddTempFile tracks a file for removal on Close.
func (c *BaseContext) AddTempFile(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempFiles = append(c.tempFiles, file)
}

// AddTempDir tracks a directory for recursive removal on Close.
func (c *BaseContext) AddTempDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempDirs = append(c.tempDirs, dir)
}

// GetTempFiles returns a copy of the tracked temporary file paths.
func (c *BaseContext) GetTempFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.tempFiles...)
}

// AddError records err under the command name key. A later error from the
// same command replaces the earlier one.
func (c *BaseContext) AddError(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[key] = err
}

// GetErrors returns a copy of the collected errors.
func (c *BaseContext) GetErrors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

// Get retrieves a value by key, or nil.
func (c *BaseContext) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// Remove deletes a key.
func (c *BaseContext) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// HasErrors reports whether any command recorded an error.
func (c *BaseContext) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}
