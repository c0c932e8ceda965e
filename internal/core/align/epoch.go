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
	"time"
)

// Magnitude thresholds used to guess the unit of a raw epoch value. Anything
// at or below secondsCeiling is taken to already be seconds.
const (
	secondsCeiling = 1e11
	millisCeiling  = 1e14
	microsCeiling  = 1e17
)

// NormalizeEpoch converts a raw epoch value in seconds, milliseconds,
// microseconds or nanoseconds into seconds. The unit is inferred from the
// magnitude. NaN and infinities pass through unchanged.
func NormalizeEpoch(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	a := math.Abs(v)
	switch {
	case a <= secondsCeiling:
		return v
	case a <= millisCeiling:
		return v / 1e3
	case a <= microsCeiling:
		return v / 1e6
	default:
		return v / 1e9
	}
}

// EpochSeconds converts t into fractional epoch seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromEpochSeconds converts fractional epoch seconds back into a UTC time.
func FromEpochSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
