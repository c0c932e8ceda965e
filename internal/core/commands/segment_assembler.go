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
	"fmt"
	"os"

	"go.opentelemetry.io/otel/metric"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/export"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// SegmentAssembler crops every modality of every requested window. It reads
// the request and the trip manifest from the context, cuts into a scratch
// directory owned by the chain context and emits []model.SegmentExportSet.
// Failed sub-results are counted but never fail the command; a partial export
// is still an export.
type SegmentAssembler struct {
	cor.BaseCommand
	tabular         services.TabularSource
	transcoder      services.Transcoder
	signer          services.URLSigner
	config          *cloud.Config
	segmentCounter  metric.Int64Counter
	failureCounter  metric.Int64Counter
	numberOfWorkers int
}

func NewSegmentAssembler(
	name string,
	tabular services.TabularSource,
	transcoder services.Transcoder,
	signer services.URLSigner,
	config *cloud.Config) *SegmentAssembler {
	out := &SegmentAssembler{
		BaseCommand:     *cor.NewBaseCommand(name),
		tabular:         tabular,
		transcoder:      transcoder,
		signer:          signer,
		config:          config,
		numberOfWorkers: config.Application.ThreadPoolSize,
	}
	out.segmentCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.segments", out.GetName()))
	out.failureCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.sub_results.failed", out.GetName()))
	return out
}

func (s *SegmentAssembler) IsExecutable(context cor.Context) bool {
	return context != nil &&
		context.Get(ExportRequestParam) != nil &&
		context.Get(ManifestParam) != nil
}

func (s *SegmentAssembler) Execute(context cor.Context) {
	req := context.Get(ExportRequestParam).(*model.ExportRequest)
	manifest := context.Get(ManifestParam).(*model.TripManifest)
	ctx := context.GetContext()

	workDir, err := os.MkdirTemp(s.config.Storage.WorkDir, "export-"+req.ID+"-")
	if err != nil {
		s.Fail(context, fmt.Errorf("failed to create work dir: %w", err))
		return
	}
	context.AddTempDir(workDir)
	context.Add(WorkDirParam, workDir)

	resolver := services.NewTripResolver(manifest, s.tabular, s.transcoder, s.signer, services.ResolverOptions{
		WorkDir:     workDir,
		Materialize: s.config.Export.MaterializeVideo,
		SignedTTL:   s.config.SignedURLTTL(),
	})

	streams := req.VideoStreams
	if len(streams) == 0 {
		streams = s.config.Export.VideoStreams
	}
	channels := req.IMUChannels
	if len(channels) == 0 {
		channels = s.config.Export.IMUChannels
	}

	assembler := export.NewAssembler(resolver, streams, channels, export.WithWorkers(s.numberOfWorkers))
	sets := assembler.Assemble(ctx, export.SegmentsFromWindows(req.Segments))

	failures := 0
	for i := range sets {
		failures += sets[i].Failures()
	}
	s.segmentCounter.Add(ctx, int64(len(sets)))
	s.failureCounter.Add(ctx, int64(failures))
	s.Succeed(context)

	context.Add(SegmentsParam, sets)
	context.Add(s.GetOutputParam(), sets)
}
