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
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// DefaultClipLength is the span assumed for a camera file when nothing else
// is known about its length.
const DefaultClipLength = 60 * time.Second

// VideoTimeLayout is the timestamp layout embedded in camera file names.
const VideoTimeLayout = "2006-01-02_15-04-05"

// OtherStream groups video files whose camera suffix is not recognised.
const OtherStream = "other"

// KnownStreams are the camera positions recognised in file names.
var KnownStreams = []string{"front", "left", "right", "rear"}

var videoNamePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})-([A-Za-z0-9]+)\.mp4$`)

// ParseVideoName extracts the start time and camera stream from a file name
// such as "2024-05-01_12-00-00-front.mp4". Times are read as UTC. Unknown
// camera suffixes map to OtherStream.
//
// Inputs:
//   - name: An object name or base name.
//
// Outputs:
//   - time.Time: The recording start.
//   - string: The camera stream.
//   - bool: False when the name does not follow the convention.
func ParseVideoName(name string) (time.Time, string, bool) {
	m := videoNamePattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return time.Time{}, "", false
	}
	start, err := time.ParseInLocation(VideoTimeLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, "", false
	}
	stream := strings.ToLower(m[2])
	for _, s := range KnownStreams {
		if s == stream {
			return start, stream, true
		}
	}
	return start, OtherStream, true
}

// VideoSpan returns the span covered by a camera file, [start, start+length].
// A non-positive length falls back to DefaultClipLength.
func VideoSpan(start time.Time, length time.Duration) model.TimeSpan {
	if length <= 0 {
		length = DefaultClipLength
	}
	s := EpochSeconds(start)
	return model.TimeSpan{Start: s, End: s + length.Seconds()}
}

// IndexVideos groups object names by camera stream, derives each file's span
// from its name and sorts every group by start time. Names that do not follow
// the convention are skipped.
func IndexVideos(bucket string, names []string, length time.Duration) map[string][]model.VideoFile {
	out := make(map[string][]model.VideoFile)
	for _, n := range names {
		start, stream, ok := ParseVideoName(n)
		if !ok {
			continue
		}
		out[stream] = append(out[stream], model.VideoFile{
			Object: model.ObjectRef{Bucket: bucket, Name: n},
			Stream: stream,
			Span:   VideoSpan(start, length),
		})
	}
	for _, files := range out {
		sort.SliceStable(files, func(i, j int) bool { return files[i].Span.Start < files[j].Span.Start })
	}
	return out
}

// Candidates turns listed video files into match candidates, keeping order.
func Candidates(files []model.VideoFile) []model.SourceAsset {
	out := make([]model.SourceAsset, 0, len(files))
	for _, f := range files {
		out = append(out, model.SourceAsset{ID: f.Object.Name, Span: f.Span})
	}
	return out
}

// ClipName builds the output name for a clip of window, for example
// "2024-05-01_12-00-05_to_12-00-15.mp4".
func ClipName(window model.TimeSpan) string {
	start := FromEpochSeconds(window.Start)
	end := FromEpochSeconds(window.End)
	return start.Format(VideoTimeLayout) + "_to_" + end.Format("15-04-05") + ".mp4"
}
