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

// Package align holds the time-window alignment core: picking the source file
// that covers a window, turning absolute windows into file-relative offsets,
// and cropping tabular streams to a window. Everything here is pure and safe
// for concurrent use.
package align

import (
	"math"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// Match returns the first candidate, in input order, whose span fully encloses
// the window. Both bounds are inclusive, so a window equal to a candidate's
// span matches it.
//
// Inputs:
//   - window: The requested absolute window.
//   - candidates: Source assets in the caller's preferred order.
//
// Outputs:
//   - model.SourceAsset: The matched asset, zero when nothing matched.
//   - bool: False when no candidate encloses the window. This is a normal
//     outcome, not an error.
func Match(window model.TimeSpan, candidates []model.SourceAsset) (model.SourceAsset, bool) {
	for _, c := range candidates {
		if c.Span.Encloses(window) {
			return c, true
		}
	}
	return model.SourceAsset{}, false
}

// Offset converts an absolute window into a seek position and a length inside
// the matched asset. The duration is clipped to the asset's end, and neither
// value is ever negative. Any NaN or infinite bound yields (0, 0).
//
// Inputs:
//   - window: The requested absolute window.
//   - matched: The asset chosen by Match.
//
// Outputs:
//   - relativeStart: Seconds from the start of the asset to the window start.
//   - duration: Seconds to extract. Zero means there is nothing to extract.
func Offset(window model.TimeSpan, matched model.SourceAsset) (relativeStart, duration float64) {
	for _, v := range []float64{window.Start, window.End, matched.Span.Start, matched.Span.End} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0
		}
	}
	relativeStart = math.Max(0, window.Start-matched.Span.Start)
	end := math.Min(window.End, matched.Span.End)
	duration = math.Max(0, end-matched.Span.Start-relativeStart)
	return relativeStart, duration
}

// Plan runs Match and Offset together for one stream.
func Plan(req model.CropRequest) model.CropResult {
	asset, ok := Match(req.Window, req.Candidates)
	if !ok {
		return model.NoData("no source file covers the requested window")
	}
	rel, dur := Offset(req.Window, asset)
	return model.CropResult{
		Status:         model.CropOk,
		Matched:        &asset,
		RelativeOffset: rel,
		Duration:       dur,
	}
}
