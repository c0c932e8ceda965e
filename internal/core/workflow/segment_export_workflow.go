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

package workflow

import (
	goctx "context"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/commands"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// SegmentExportWorkflow turns an export request into a zip of cropped,
// per-segment video and sensor data in the export bucket:
//
//	read request -> resolve manifest -> assemble segments -> bundle -> upload -> sign
//
// The export record is written as a finally step, so rejected and failed
// requests are recorded too.
type SegmentExportWorkflow struct {
	cor.BaseCommand
	config *cloud.Config
	deps   Dependencies
	chain  cor.Chain
}

func NewSegmentExportWorkflow(config *cloud.Config, deps Dependencies) *SegmentExportWorkflow {
	out := &SegmentExportWorkflow{
		BaseCommand: *cor.NewBaseCommand("segment-export-workflow"),
		config:      config,
		deps:        deps,
	}
	out.initializeChain()
	return out
}

func exportID(context cor.Context) string {
	if req, ok := cor.Get[*model.ExportRequest](context, commands.ExportRequestParam); ok {
		return req.ID
	}
	return "unknown"
}

func (w *SegmentExportWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())

	out.AddCommand(commands.NewExportRequestReader("read-export-request"))
	out.AddCommand(commands.NewTripManifestResolver("resolve-trip-manifest", w.deps.Manifests))
	out.AddCommand(commands.NewSegmentAssembler("assemble-segments", w.deps.Tabular, w.deps.Transcoder, w.deps.Signer, w.config))
	out.AddCommand(commands.NewExportBundler("bundle-export", w.config.Storage.WorkDir))
	out.AddCommand(commands.NewGCSFileUpload("upload-bundle", w.deps.Store, w.config.Storage.ExportBucket, commands.UnderPrefix("exports", exportID)))
	out.AddCommand(commands.NewSignedURL("sign-bundle", w.deps.Signer, w.config.SignedURLTTL()))

	if w.deps.Ledger != nil {
		out.AddFinally(commands.NewExportRecordPersist("persist-export-record", w.deps.Ledger))
	}
	w.chain = out
}

func (w *SegmentExportWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// Run executes the workflow for in, a JSON string or *model.ExportRequest.
// Partial results are returned alongside the error when the chain failed
// after assembling segments.
func (w *SegmentExportWorkflow) Run(ctx goctx.Context, in interface{}) (*model.ExportResult, error) {
	out := &model.ExportResult{}
	err := run(ctx, w, in, func(context cor.Context) {
		out.ID = exportID(context)
		if sets, ok := cor.Get[[]model.SegmentExportSet](context, commands.SegmentsParam); ok {
			out.Segments = sets
		}
		if refs, ok := cor.Get[[]model.ObjectRef](context, commands.UploadedParam); ok && len(refs) > 0 {
			out.Object = refs[0]
		}
		if urls, ok := cor.Get[[]string](context, commands.DownloadURLParam); ok && len(urls) > 0 {
			out.DownloadURL = urls[0]
		}
	})
	return out, err
}
