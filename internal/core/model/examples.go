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

package model

// GetExampleExportRequest returns a filled-in export request for a single
// trip: two windows, all four cameras and both IMU channels. It documents the
// message shape expected on the export subscription.
func GetExampleExportRequest() *ExportRequest {
	return &ExportRequest{
		Trip: TripRef{OrgID: "org-001", KeyID: "key-042"},
		Segments: []TimeSpan{
			{Start: 1714564805, End: 1714564815},
			{Start: 1714564870, End: 1714564890},
		},
		VideoStreams: []string{"front", "left", "right", "rear"},
		IMUChannels:  []string{"gyro", "accel"},
	}
}
