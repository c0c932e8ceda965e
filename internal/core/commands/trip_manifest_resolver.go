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
	goctx "context"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ManifestSource finds the objects backing an export request.
type ManifestSource interface {
	Manifest(ctx goctx.Context, req *model.ExportRequest) (*model.TripManifest, error)
}

// TripManifestResolver looks up the trip manifest for the request on CtxIn.
type TripManifestResolver struct {
	cor.BaseCommand
	source ManifestSource
}

func NewTripManifestResolver(name string, source ManifestSource) *TripManifestResolver {
	return &TripManifestResolver{BaseCommand: *cor.NewBaseCommand(name), source: source}
}

func (c *TripManifestResolver) Execute(context cor.Context) {
	req, err := cor.MustGet[*model.ExportRequest](context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	manifest, err := c.source.Manifest(context.GetContext(), req)
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	context.Add(ManifestParam, manifest)
	context.Add(c.GetOutputParam(), manifest)
}
