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

// Package workflow wires commands into the chains the service runs: the
// multi-segment export and the frame extraction. Both the HTTP handlers and
// the Pub/Sub listener go through these chains.
package workflow

import (
	goctx "context"
	"errors"
	"fmt"
	"sort"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/commands"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// Dependencies are the collaborators the workflows are built from.
type Dependencies struct {
	Manifests  commands.ManifestSource
	Tabular    services.TabularSource
	Transcoder services.Transcoder
	Signer     services.URLSigner
	Store      services.ObjectStore
	Ledger     commands.ExportLedger // Optional.
}

// run executes command over a fresh chain context seeded with in and hands
// the finished context to collect before the context's scratch files are
// removed.
func run(ctx goctx.Context, command cor.Command, in interface{}, collect func(cor.Context)) error {
	chainCtx := cor.NewBaseContextWith(ctx)
	defer chainCtx.Close()
	chainCtx.Add(cor.CtxIn, in)

	command.Execute(chainCtx)
	collect(chainCtx)
	return chainError(chainCtx)
}

func chainError(context cor.Context) error {
	errs := context.GetErrors()
	if len(errs) == 0 {
		return nil
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]error, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return errors.Join(out...)
}
