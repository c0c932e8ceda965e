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

package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/export"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

// rowsEntry loads one object's rows at most once per export.
type rowsEntry struct {
	once sync.Once
	rows []model.TimestampedRow
	err  error
}

var _ export.SegmentScoper = (*TripResolver)(nil)

// rowCache is shared by a resolver and every per-segment view of it.
type rowCache struct {
	mu      sync.Mutex
	entries map[model.ObjectRef]*rowsEntry
}

// TripResolver produces the crops of one export from a trip manifest. Video
// crops are planned against the manifest's files and, when materialising, cut
// into workDir; tabular crops are filtered and written back as parquet. It is
// safe for concurrent use by the segment assembler, which resolves each
// segment through ForSegment so every segment writes under its own directory.
type TripResolver struct {
	manifest    *model.TripManifest
	tabular     TabularSource
	transcoder  Transcoder
	signer      URLSigner
	ttl         time.Duration
	workDir     string
	materialize bool
	cache       *rowCache
}

// ResolverOptions configures a TripResolver.
type ResolverOptions struct {
	WorkDir     string        // Where clips and parquet crops are written.
	Materialize bool          // Cut video with the transcoder instead of returning plans.
	SignedTTL   time.Duration // Lifetime of the source URLs handed to the transcoder.
}

// NewTripResolver builds a resolver over manifest.
func NewTripResolver(manifest *model.TripManifest, tabular TabularSource, transcoder Transcoder, signer URLSigner, opts ResolverOptions) *TripResolver {
	if opts.SignedTTL <= 0 {
		opts.SignedTTL = time.Hour
	}
	return &TripResolver{
		manifest:    manifest,
		tabular:     tabular,
		transcoder:  transcoder,
		signer:      signer,
		ttl:         opts.SignedTTL,
		workDir:     opts.WorkDir,
		materialize: opts.Materialize,
		cache:       &rowCache{entries: make(map[model.ObjectRef]*rowsEntry)},
	}
}

// ForSegment returns a view of r that writes under workDir/segment_<index>.
// Views share the parsed source rows.
func (r *TripResolver) ForSegment(index int) export.Resolver {
	view := *r
	view.workDir = filepath.Join(r.workDir, fmt.Sprintf("segment_%d", index))
	return &view
}

func windowStem(window model.TimeSpan) string {
	return strings.TrimSuffix(align.ClipName(window), ".mp4")
}

// ResolveVideo matches the window against the stream's files and cuts the clip.
func (r *TripResolver) ResolveVideo(ctx context.Context, stream string, window model.TimeSpan) model.CropResult {
	files := r.manifest.Videos[stream]
	if len(files) == 0 {
		return model.NoData(fmt.Sprintf("no %s footage for this trip", stream))
	}
	res := align.Plan(model.CropRequest{Window: window, Candidates: align.Candidates(files)})
	if !res.OK() {
		return res
	}
	if res.Duration <= 0 {
		return model.NoData("matched footage has nothing inside the window")
	}

	var source model.ObjectRef
	for _, f := range files {
		if f.Object.Name == res.Matched.ID {
			source = f.Object
			break
		}
	}
	res.Output = source.String()
	if !r.materialize || r.transcoder == nil {
		return res
	}

	url, err := r.signer.SignedURL(ctx, source, r.ttl)
	if err != nil {
		return model.Failed(err)
	}
	plan := model.ClipPlan{Source: source, Window: window, RelativeOffset: res.RelativeOffset, Duration: res.Duration}
	output := filepath.Join(r.workDir, "video", stream, align.ClipName(window))
	if err := r.transcoder.Clip(ctx, plan, url, output); err != nil {
		return failedWith(res, err)
	}
	res.Output = output
	return res
}

// ResolveGPS crops the trip's GPS samples to the window.
func (r *TripResolver) ResolveGPS(ctx context.Context, window model.TimeSpan) model.CropResult {
	return r.resolveTable(ctx, r.manifest.GPS, "gps", window)
}

// ResolveIMU crops one IMU channel to the window.
func (r *TripResolver) ResolveIMU(ctx context.Context, channel string, window model.TimeSpan) model.CropResult {
	return r.resolveTable(ctx, r.manifest.IMU[channel], "imu_"+channel, window)
}

func (r *TripResolver) resolveTable(ctx context.Context, ref model.ObjectRef, name string, window model.TimeSpan) model.CropResult {
	if ref.IsZero() {
		return model.NoData(fmt.Sprintf("no %s data for this trip", name))
	}
	rows, err := r.rows(ctx, ref)
	if err != nil {
		return model.Failed(err)
	}
	res := align.Crop(rows, window)
	if !res.OK() || !r.materialize {
		return res
	}
	output := filepath.Join(r.workDir, name, windowStem(window)+".parquet")
	if err := writeParquet(output, res.Rows); err != nil {
		return failedWith(res, err)
	}
	res.Output = output
	return res
}

// rows loads ref once per export. The load runs under the first caller's
// context, so a cancellation seen by that caller is cached for every later
// segment too; the assembler passes one context to all segments.
func (r *TripResolver) rows(ctx context.Context, ref model.ObjectRef) ([]model.TimestampedRow, error) {
	r.cache.mu.Lock()
	entry, ok := r.cache.entries[ref]
	if !ok {
		entry = &rowsEntry{}
		r.cache.entries[ref] = entry
	}
	r.cache.mu.Unlock()

	entry.once.Do(func() {
		entry.rows, entry.err = r.tabular.LoadRows(ctx, ref)
	})
	return entry.rows, entry.err
}

func writeParquet(path string, rows []model.TimestampedRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tabular.WriteRows(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	// the parquet writer closes its sink when it finishes
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// failedWith keeps what was resolved so far on a failed result.
func failedWith(res model.CropResult, err error) model.CropResult {
	out := model.Failed(err)
	out.Matched = res.Matched
	out.RelativeOffset = res.RelativeOffset
	out.Duration = res.Duration
	out.RowCount = res.RowCount
	return out
}
