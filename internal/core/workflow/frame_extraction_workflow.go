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

// FrameExtractionWorkflow samples frames from a video and publishes them
// under frames/<id>/ in the export bucket.
type FrameExtractionWorkflow struct {
	cor.BaseCommand
	config *cloud.Config
	deps   Dependencies
	chain  cor.Chain
}

func NewFrameExtractionWorkflow(config *cloud.Config, deps Dependencies) *FrameExtractionWorkflow {
	out := &FrameExtractionWorkflow{
		BaseCommand: *cor.NewBaseCommand("frame-extraction-workflow"),
		config:      config,
		deps:        deps,
	}
	out.initializeChain()
	return out
}

func frameID(context cor.Context) string {
	if req, ok := cor.Get[*model.FrameRequest](context, commands.FrameRequestParam); ok {
		return req.ID
	}
	return "unknown"
}

func (w *FrameExtractionWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewFrameRequestReader("read-frame-request", w.config.Transcoder.DefaultFPS))
	out.AddCommand(commands.NewFrameExtractor("extract-frames", w.deps.Transcoder, w.deps.Signer, w.config))
	out.AddCommand(commands.NewGCSFileUpload("upload-frames", w.deps.Store, w.config.Storage.ExportBucket, commands.UnderPrefix("frames", frameID)))
	out.AddCommand(commands.NewSignedURL("sign-frames", w.deps.Signer, w.config.SignedURLTTL()))
	w.chain = out
}

func (w *FrameExtractionWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// Run extracts the frames requested by in, a JSON string or *model.FrameRequest.
func (w *FrameExtractionWorkflow) Run(ctx goctx.Context, in interface{}) (*model.FrameResult, error) {
	out := &model.FrameResult{}
	err := run(ctx, w, in, func(context cor.Context) {
		out.ID = frameID(context)
		out.Objects, _ = cor.Get[[]model.ObjectRef](context, commands.UploadedParam)
		out.URLs, _ = cor.Get[[]string](context, commands.DownloadURLParam)
	})
	return out, err
}
