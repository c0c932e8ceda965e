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
// export and frame workflows. This file defines `BaseChain`, the default
// `Chain`.
//
// A chain runs its commands in order under one span, with a child span per
// command. After each command the value left in CtxOut is moved to CtxIn so
// the next command receives it. Unless ContinueOnFailure is set, the chain
// stops at the first recorded error. Commands added with AddFinally run after
// the main sequence whatever happened, which is where scratch space is
// released.
package cor

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

// BaseChain is the default implementation of the Chain interface. It holds a slice
// of commands to be executed sequentially.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
	finally           []Command
}

// NewBaseChain returns an empty chain named name.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

// ContinueOnFailure makes the chain keep running after a command records an
// error.
func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

// AddCommand appends a command to the main sequence.
func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// AddFinally appends a command that runs after the main sequence, even when
// an earlier command failed.
func (c *BaseChain) AddFinally(command Command) Chain {
	c.finally = append(c.finally, command)
	return c
}

// IsExecutable checks if the chain can be executed. For a chain, this simply means
// that a valid Go context exists.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context.GetContext() != nil
}

// Execute runs the commands in order against chCtx.
func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()

	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()

	for _, command := range c.commands {
		commandContext, commandSpan := c.Tracer.Start(outerCtx, command.GetName())

		if chCtx.HasErrors() && !c.continueOnFailure {
			commandSpan.SetStatus(codes.Error, "previous error on chain; skipping execution")
			commandSpan.End()
			break
		}

		if command.IsExecutable(chCtx) {
			chCtx.SetContext(commandContext)
			command.Execute(chCtx)
			// reset so the next command's span is a sibling, not a grandchild
			chCtx.SetContext(outerCtx)
		} else {
			commandSpan.SetStatus(codes.Error, fmt.Sprintf("command not executable: %s", command.GetName()))
		}

		if chCtx.HasErrors() {
			commandSpan.SetStatus(codes.Error, "error during or after command execution")
		} else {
			commandSpan.SetStatus(codes.Ok, "command completed successfully")
		}
		commandSpan.End()

		// pipe this command's output into the next command's input
		outputValue := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if outputValue != nil {
			chCtx.Add(CtxIn, outputValue)
		}
		chCtx.Remove(CtxOut)
	}

	for _, command := range c.finally {
		if !command.IsExecutable(chCtx) {
			continue
		}
		commandContext, commandSpan := c.Tracer.Start(outerCtx, command.GetName())
		chCtx.SetContext(commandContext)
		command.Execute(chCtx)
		chCtx.SetContext(outerCtx)
		commandSpan.End()
	}

	chCtx.SetContext(parentCtx)

	if !chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Ok, "chain completed successfully")
	} else {
		chainSpan.SetStatus(codes.Error, "chain failed to execute")
	}
}
