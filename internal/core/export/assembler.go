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

// Package export assembles per-segment, multi-modal crop sets. For every
// requested window it resolves each configured video stream, the GPS stream
// and each IMU channel through a Resolver, recording failures per sub-result
// so one broken modality never hides the others.
//
// Segments are spread over a fixed pool of workers fed by a jobs channel, the
// same fan-out used elsewhere in the service for per-item work. Results are
// written back by input position, so the output order always matches the
// request order regardless of completion order.
package export

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// DefaultWorkers is used when the assembler is built with a non-positive
// worker count.
const DefaultWorkers = 4

// Segment is one requested window, identified by its position in the request.
type Segment struct {
	Index  int            `json:"index"`
	Window model.TimeSpan `json:"window"`
}

// SegmentsFromWindows numbers windows in request order.
func SegmentsFromWindows(windows []model.TimeSpan) []Segment {
	out := make([]Segment, 0, len(windows))
	for i, w := range windows {
		out = append(out, Segment{Index: i, Window: w})
	}
	return out
}

// Resolver produces the crop of one stream for one window. Implementations
// must be safe for concurrent use and report problems through the result's
// status instead of panicking.
type Resolver interface {
	ResolveVideo(ctx context.Context, stream string, window model.TimeSpan) model.CropResult
	ResolveGPS(ctx context.Context, window model.TimeSpan) model.CropResult
	ResolveIMU(ctx context.Context, channel string, window model.TimeSpan) model.CropResult
}

// SegmentScoper is implemented by resolvers that keep per-segment state, such
// as where materialised crops are written. The assembler resolves each
// segment through ForSegment(index) so that two segments never share an
// output, even when their windows are identical.
type SegmentScoper interface {
	ForSegment(index int) Resolver
}

// Assembler fans segments out over a bounded worker pool. It holds no state
// between calls.
type Assembler struct {
	resolver     Resolver
	videoStreams []string
	imuChannels  []string
	workers      int
	includeGPS   bool
	tracer       trace.Tracer
}

// Option customises an Assembler.
type Option func(*Assembler)

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(a *Assembler) { a.workers = n }
}

// WithoutGPS skips the GPS stream.
func WithoutGPS() Option {
	return func(a *Assembler) { a.includeGPS = false }
}

// NewAssembler builds an assembler for the given streams and channels.
//
// Inputs:
//   - resolver: Produces individual crops.
//   - videoStreams: Camera streams to crop for every segment.
//   - imuChannels: IMU channels to crop for every segment.
//   - opts: Optional settings such as the worker count.
//
// Outputs:
//   - *Assembler: A ready-to-use assembler.
func NewAssembler(resolver Resolver, videoStreams, imuChannels []string, opts ...Option) *Assembler {
	a := &Assembler{
		resolver:     resolver,
		videoStreams: append([]string(nil), videoStreams...),
		imuChannels:  append([]string(nil), imuChannels...),
		workers:      DefaultWorkers,
		includeGPS:   true,
		tracer:       otel.Tracer("segment-assembler"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.workers <= 0 {
		a.workers = DefaultWorkers
	}
	return a
}

type segmentJob struct {
	position int
	segment  Segment
}

// Assemble produces one export set per segment, in input order. A cancelled
// context marks the remaining sub-results as failed rather than dropping
// segments.
func (a *Assembler) Assemble(ctx context.Context, segments []Segment) []model.SegmentExportSet {
	out := make([]model.SegmentExportSet, len(segments))
	if len(segments) == 0 {
		return out
	}

	workers := a.workers
	if workers > len(segments) {
		workers = len(segments)
	}

	jobs := make(chan segmentJob, len(segments))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				out[j.position] = a.assembleOne(ctx, j.segment)
			}
		}()
	}

	for i, s := range segments {
		jobs <- segmentJob{position: i, segment: s}
	}
	close(jobs)
	wg.Wait()

	return out
}

func (a *Assembler) assembleOne(ctx context.Context, seg Segment) (set model.SegmentExportSet) {
	spanCtx, span := a.tracer.Start(ctx, fmt.Sprintf("assemble_segment_%d", seg.Index))
	span.SetAttributes(
		attribute.Int("segment", seg.Index),
		attribute.Float64("start", seg.Window.Start),
		attribute.Float64("end", seg.Window.End),
	)
	defer span.End()

	set = model.SegmentExportSet{
		SegmentIndex: seg.Index,
		Window:       seg.Window,
		Video:        make(map[string]model.CropResult, len(a.videoStreams)),
		IMU:          make(map[string]model.CropResult, len(a.imuChannels)),
	}

	if err := seg.Window.Validate(); err != nil {
		a.failAll(&set, err)
		span.SetStatus(codes.Error, err.Error())
		return set
	}

	resolver := a.resolver
	if scoper, ok := resolver.(SegmentScoper); ok {
		resolver = scoper.ForSegment(seg.Index)
	}

	for _, stream := range a.videoStreams {
		set.Video[stream] = a.guard(spanCtx, func(c context.Context) model.CropResult {
			return resolver.ResolveVideo(c, stream, seg.Window)
		})
	}
	if a.includeGPS {
		gps := a.guard(spanCtx, func(c context.Context) model.CropResult {
			return resolver.ResolveGPS(c, seg.Window)
		})
		set.GPS = &gps
	}
	for _, ch := range a.imuChannels {
		set.IMU[ch] = a.guard(spanCtx, func(c context.Context) model.CropResult {
			return resolver.ResolveIMU(c, ch, seg.Window)
		})
	}

	if n := set.Failures(); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sub-results failed", n))
	} else {
		span.SetStatus(codes.Ok, "segment assembled")
	}
	return set
}

// guard runs one resolution, turning a cancelled context or a panic inside the
// resolver into a failed result.
func (a *Assembler) guard(ctx context.Context, fn func(context.Context) model.CropResult) (res model.CropResult) {
	if err := ctx.Err(); err != nil {
		return model.Failed(err)
	}
	defer func() {
		if r := recover(); r != nil {
			res = model.Failed(fmt.Errorf("resolver panic: %v", r))
		}
	}()
	return fn(ctx)
}

func (a *Assembler) failAll(set *model.SegmentExportSet, err error) {
	for _, s := range a.videoStreams {
		set.Video[s] = model.Failed(err)
	}
	if a.includeGPS {
		gps := model.Failed(err)
		set.GPS = &gps
	}
	for _, ch := range a.imuChannels {
		set.IMU[ch] = model.Failed(err)
	}
}
