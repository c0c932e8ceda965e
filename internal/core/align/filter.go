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

package align

import (
	"math"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// FilterWindow keeps the rows whose timestamp lies inside the closed window.
// Input order is preserved and nothing is deduplicated or re-sorted. Rows with
// a NaN or infinite timestamp never match.
func FilterWindow(rows []model.TimestampedRow, window model.TimeSpan) []model.TimestampedRow {
	out := make([]model.TimestampedRow, 0)
	for _, r := range rows {
		if math.IsNaN(r.Timestamp) || math.IsInf(r.Timestamp, 0) {
			continue
		}
		if window.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out
}

// Crop wraps FilterWindow into a crop result, reporting an empty selection as
// no data.
func Crop(rows []model.TimestampedRow, window model.TimeSpan) model.CropResult {
	selected := FilterWindow(rows, window)
	if len(selected) == 0 {
		return model.NoData("no samples inside the requested window")
	}
	return model.CropResult{Status: model.CropOk, Rows: selected, RowCount: len(selected)}
}
