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
// export and frame workflows. This file defines the interfaces for commands,
// chains and the shared context, plus typed accessors for context values.
package cor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Keys a BaseChain uses to pipe one command's output into the next one's
// input.
const (
	CtxIn  = "__IN__"
	CtxOut = "__OUT__"
)

// Context is the state of one workflow run: named values, per-command errors
// and the scratch files to remove when the run ends.
type Context interface {
	// SetContext and GetContext carry cancellation and trace state.
	SetContext(context context.Context)
	GetContext() context.Context

	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	// AddError records err under key, normally the failing command's name.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool

	AddTempFile(file string)
	GetTempFiles() []string
	// AddTempDir registers a directory removed with its contents on Close.
	AddTempDir(dir string)

	// Close removes every registered temp file and directory.
	Close()
}

// Executable runs against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one step of a workflow, such as resolving a trip, assembling
// segments or uploading a bundle.
type Command interface {
	Executable

	GetName() string
	// GetInputParam and GetOutputParam name the context keys the command
	// reads and writes.
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable reports whether the context holds what Execute needs.
	// Chains skip commands that answer false.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain runs commands in order and is itself a Command, so chains nest.
type Chain interface {
	Command

	// ContinueOnFailure keeps the chain going after a command records an
	// error. By default the chain stops at the first error.
	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
	// AddFinally registers a command that runs after the sequence, whether or
	// not it failed.
	AddFinally(command Command) Chain
}

// Get returns the value stored under key as a T. The boolean is false when
// the key is missing or holds another type.
func Get[T any](ctx Context, key string) (T, bool) {
	v, ok := ctx.Get(key).(T)
	return v, ok
}

// MustGet is Get for values a command's IsExecutable already checked. A
// missing value is reported as an error instead of a panic.
func MustGet[T any](ctx Context, key string) (T, error) {
	v, ok := Get[T](ctx, key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("context value %q missing or not a %T", key, zero)
	}
	return v, nil
}
