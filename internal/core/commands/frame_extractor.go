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

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// FrameRequestReader decodes and validates a *model.FrameRequest, filling in
// the session id and the configured default rate.
type FrameRequestReader struct {
	cor.BaseCommand
	defaultFPS float64
}

func NewFrameRequestReader(name string, defaultFPS float64) *FrameRequestReader {
	return &FrameRequestReader{BaseCommand: *cor.NewBaseCommand(name), defaultFPS: defaultFPS}
}

func (c *FrameRequestReader) Execute(context cor.Context) {
	var req *model.FrameRequest
	switch in := context.Get(c.GetInputParam()).(type) {
	case *model.FrameRequest:
		req = in
	case string:
		req = &model.FrameRequest{}
		if err := json.Unmarshal([]byte(in), req); err != nil {
			c.Fail(context, fmt.Errorf("failed to unmarshal frame request: %w", err))
			return
		}
	default:
		c.Fail(context, fmt.Errorf("unsupported frame request input %T", in))
		return
	}
	if err := req.Validate(); err != nil {
		c.Fail(context, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.FPS == 0 {
		req.FPS = c.defaultFPS
	}
	c.Succeed(context)
	context.Add(FrameRequestParam, req)
	context.Add(c.GetOutputParam(), req)
}

// FrameExtractor samples JPEG frames from the requested video. ffmpeg reads
// the object through a signed URL, so nothing is downloaded first. The output
// is the ordered list of local frame paths.
type FrameExtractor struct {
	cor.BaseCommand
	transcoder services.Transcoder
	signer     services.URLSigner
	config     *cloud.Config
}

func NewFrameExtractor(name string, transcoder services.Transcoder, signer services.URLSigner, config *cloud.Config) *FrameExtractor {
	return &FrameExtractor{
		BaseCommand: *cor.NewBaseCommand(name),
		transcoder:  transcoder,
		signer:      signer,
		config:      config}
}

func (c *FrameExtractor) Execute(context cor.Context) {
	req, err := cor.MustGet[*model.FrameRequest](context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()

	url, err := c.signer.SignedURL(ctx, req.Source, c.config.SignedURLTTL())
	if err != nil {
		c.Fail(context, err)
		return
	}
	dir, err := os.MkdirTemp(c.config.Storage.WorkDir, "frames-"+req.ID+"-")
	if err != nil {
		c.Fail(context, err)
		return
	}
	context.AddTempDir(dir)

	frames, err := c.transcoder.ExtractFrames(ctx, url, req.FPS, dir)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if len(frames) == 0 {
		c.Fail(context, fmt.Errorf("no frames extracted from %s", req.Source))
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), frames)
}
