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
// export and frame workflows. This file defines `BaseCommand`, which every
// command embeds to get a name, tracing, success/error counters and the
// default input/output keys used for piping inside a `BaseChain`.
package cor

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MeterScope namespaces every command metric.
const MeterScope = "github.com/jaycherian/gcp-go-drive-annotation"

// BaseCommand is the default implementation of the Command interface. It provides
// core functionality that all concrete commands can reuse.
type BaseCommand struct {
	Name            string              // A unique name for the command, used for tracing and metrics.
	InputParamName  string              // The key to look up this command's primary input in the context.
	OutputParamName string              // The key to store this command's primary output in the context.
	Tracer          trace.Tracer        // An OpenTelemetry tracer for creating spans.
	Meter           metric.Meter        // An OpenTelemetry meter for creating metrics.
	SuccessCounter  metric.Int64Counter // A metric counter that increments on successful execution.
	ErrorCounter    metric.Int64Counter // A metric counter that increments when an error occurs.
}

// NewBaseCommand is the constructor for BaseCommand. It initializes a command
// with a name and sets up all the necessary OpenTelemetry instrumentation.
//
// Inputs:
//   - name: The string name for this command.
//
// Outputs:
//   - *BaseCommand: A pointer to the newly instantiated command.
func NewBaseCommand(name string) *BaseCommand {
	meter := otel.Meter(MeterScope)

	successCounter, err := meter.Int64Counter(fmt.Sprintf("%s.counter.success", name))
	if err != nil {
		slog.Warn("error creating success counter", "command", name, "error", err)
	}
	errorCounter, err := meter.Int64Counter(fmt.Sprintf("%s.counter.error", name))
	if err != nil {
		slog.Warn("error creating error counter", "command", name, "error", err)
	}

	return &BaseCommand{
		Name:           name,
		Tracer:         otel.Tracer(name),
		Meter:          meter,
		SuccessCounter: successCounter,
		ErrorCounter:   errorCounter,
	}
}

// GetName returns the name of the command.
func (c *BaseCommand) GetName() string {
	return c.Name
}

// IsExecutable reports whether the context is bound to a Go context and holds
// the command's input.
func (c *BaseCommand) IsExecutable(context Context) bool {
	return context != nil && context.Get(c.GetInputParam()) != nil && context.GetContext() != nil
}

// GetInputParam returns the input key, CtxIn unless InputParamName is set.
func (c *BaseCommand) GetInputParam() string {
	if len(c.InputParamName) == 0 {
		return CtxIn
	}
	return c.InputParamName
}

// GetOutputParam returns the output key, CtxOut unless OutputParamName is set.
func (c *BaseCommand) GetOutputParam() string {
	if len(c.OutputParamName) == 0 {
		return CtxOut
	}
	return c.OutputParamName
}

// GetTracer returns the OpenTelemetry Tracer for this command.
func (c *BaseCommand) GetTracer() trace.Tracer {
	return c.Tracer
}

// GetMeter returns the OpenTelemetry Meter for this command.
func (c *BaseCommand) GetMeter() metric.Meter {
	return c.Meter
}

// GetSuccessCounter returns the success metric counter for this command.
func (c *BaseCommand) GetSuccessCounter() metric.Int64Counter {
	return c.SuccessCounter
}

// GetErrorCounter returns the error metric counter for this command.
func (c *BaseCommand) GetErrorCounter() metric.Int64Counter {
	return c.ErrorCounter
}

// Fail records err against the command and bumps its error counter.
func (c *BaseCommand) Fail(context Context, err error) {
	c.ErrorCounter.Add(context.GetContext(), 1)
	context.AddError(c.GetName(), err)
}

// Succeed bumps the command's success counter.
func (c *BaseCommand) Succeed(context Context) {
	c.SuccessCounter.Add(context.GetContext(), 1)
}
