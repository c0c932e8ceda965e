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

// Package model holds the data types shared by the alignment core, the export
// assembler and the service layer. Everything in this file is transient: it is
// built per request and never written to a database as-is.
package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSpan is returned when a span ends before it starts or carries a
// non-finite bound.
var ErrInvalidSpan = errors.New("invalid time span")

// TimeSpan is a closed interval of absolute time, in epoch seconds.
type TimeSpan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Validate checks the End >= Start invariant and rejects NaN and infinite bounds.
func (t TimeSpan) Validate() error {
	if math.IsNaN(t.Start) || math.IsNaN(t.End) || math.IsInf(t.Start, 0) || math.IsInf(t.End, 0) {
		return fmt.Errorf("%w: non-finite bound [%v, %v]", ErrInvalidSpan, t.Start, t.End)
	}
	if t.End < t.Start {
		return fmt.Errorf("%w: end %v before start %v", ErrInvalidSpan, t.End, t.Start)
	}
	return nil
}

// Valid reports whether Validate returns nil.
func (t TimeSpan) Valid() bool {
	return t.Validate() == nil
}

// Duration returns End - Start in seconds.
func (t TimeSpan) Duration() float64 {
	return t.End - t.Start
}

// Encloses reports whether w lies entirely within t. Both bounds are inclusive.
func (t TimeSpan) Encloses(w TimeSpan) bool {
	return t.Start <= w.Start && w.End <= t.End
}

// Contains reports whether ts lies within the closed interval.
func (t TimeSpan) Contains(ts float64) bool {
	return t.Start <= ts && ts <= t.End
}

// SourceAsset is one candidate media file with the absolute time range it covers.
type SourceAsset struct {
	ID   string   `json:"id"`
	Span TimeSpan `json:"span"`
}

// TimestampedRow is one sample of a tabular stream (GPS or IMU). Field values
// are float64, int64, bool or string.
type TimestampedRow struct {
	Timestamp float64        `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// CropRequest pairs a requested window with the candidate assets for one stream.
type CropRequest struct {
	Window     TimeSpan      `json:"window"`
	Candidates []SourceAsset `json:"candidates"`
}

// CropStatus tells apart a produced result, an empty result and a failure.
type CropStatus string

const (
	CropOk     CropStatus = "ok"
	CropNoData CropStatus = "no_data"
	CropFailed CropStatus = "failed"
)

// CropResult is the outcome of cropping one stream to one window. Video crops
// fill Matched, RelativeOffset and Duration; tabular crops fill Rows.
type CropResult struct {
	Status         CropStatus       `json:"status"`
	Matched        *SourceAsset     `json:"matched,omitempty"`
	RelativeOffset float64          `json:"relative_offset,omitempty"`
	Duration       float64          `json:"duration,omitempty"`
	Rows           []TimestampedRow `json:"-"`
	RowCount       int              `json:"row_count,omitempty"`
	Output         string           `json:"output,omitempty"`
	Err            error            `json:"-"`
	Message        string           `json:"error,omitempty"`
}

// OK reports whether the result carries data.
func (r CropResult) OK() bool {
	return r.Status == CropOk
}

// NoData builds an empty, non-failed result.
func NoData(reason string) CropResult {
	return CropResult{Status: CropNoData, Message: reason}
}

// Failed builds a failed result from err.
func Failed(err error) CropResult {
	out := CropResult{Status: CropFailed, Err: err}
	if err != nil {
		out.Message = err.Error()
	}
	return out
}

// SegmentExportSet groups every crop produced for one requested window. Video
// results are keyed by camera stream and IMU results by channel.
type SegmentExportSet struct {
	SegmentIndex int                   `json:"segment_index"`
	Window       TimeSpan              `json:"window"`
	Video        map[string]CropResult `json:"video"`
	GPS          *CropResult           `json:"gps,omitempty"`
	IMU          map[string]CropResult `json:"imu"`
}

// Failures counts the sub-results with a failed status.
func (s *SegmentExportSet) Failures() int {
	n := 0
	for _, r := range s.Video {
		if r.Status == CropFailed {
			n++
		}
	}
	for _, r := range s.IMU {
		if r.Status == CropFailed {
			n++
		}
	}
	if s.GPS != nil && s.GPS.Status == CropFailed {
		n++
	}
	return n
}

// ObjectRef names one object in a bucket.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// IsZero reports whether the reference is unset.
func (o ObjectRef) IsZero() bool {
	return o.Bucket == "" && o.Name == ""
}

func (o ObjectRef) String() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// TripRef addresses the footage of one vehicle key inside an organisation.
type TripRef struct {
	OrgID string `json:"org_id"`
	KeyID string `json:"key_id"`
}

// Prefix returns the object prefix holding the trip's footage.
func (t TripRef) Prefix() string {
	return t.OrgID + "/" + t.KeyID + "/"
}

// VideoFile is one listed video object with the span derived from its name.
type VideoFile struct {
	Object ObjectRef `json:"object"`
	Stream string    `json:"stream"`
	Span   TimeSpan  `json:"span"`
}

// TripManifest maps every stream of a trip to the objects that back it.
type TripManifest struct {
	Videos map[string][]VideoFile `json:"videos"`
	GPS    ObjectRef              `json:"gps"`
	IMU    map[string]ObjectRef   `json:"imu"`
}

// GPSPoint is one cleaned GPS sample.
type GPSPoint struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Timestamp float64  `json:"timestamp"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// ClipPlan is the resolved extraction for one window of one stream.
type ClipPlan struct {
	Source         ObjectRef `json:"source"`
	Window         TimeSpan  `json:"window"`
	RelativeOffset float64   `json:"start_offset"`
	Duration       float64   `json:"duration"`
}

// ExportRequest asks for a multi-segment, multi-modal export of one trip.
// Either ScenarioID or Trip identifies the source data.
type ExportRequest struct {
	ID           string     `json:"id,omitempty"`
	ScenarioID   int64      `json:"scenario_id,omitempty"`
	Trip         TripRef    `json:"trip"`
	Segments     []TimeSpan `json:"segments"`
	VideoStreams []string   `json:"video_streams,omitempty"`
	IMUChannels  []string   `json:"imu_channels,omitempty"`
}

// Validate checks that the request names its source and carries valid windows.
func (r *ExportRequest) Validate() error {
	if r.ScenarioID == 0 && (r.Trip.OrgID == "" || r.Trip.KeyID == "") {
		return errors.New("export request needs a scenario_id or an org_id/key_id pair")
	}
	if len(r.Segments) == 0 {
		return errors.New("export request has no segments")
	}
	for i, s := range r.Segments {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// ExportResult summarises a finished export.
type ExportResult struct {
	ID          string             `json:"id"`
	Object      ObjectRef          `json:"object"`
	DownloadURL string             `json:"download_url,omitempty"`
	Segments    []SegmentExportSet `json:"segments"`
}

// FrameRequest asks for still frames sampled from one video object.
type FrameRequest struct {
	ID     string    `json:"id,omitempty"`
	Source ObjectRef `json:"source"`
	FPS    float64   `json:"fps,omitempty"`
}

// Validate checks that the request names a source and a usable rate.
func (r *FrameRequest) Validate() error {
	if r.Source.Bucket == "" || r.Source.Name == "" {
		return errors.New("frame request needs a source object")
	}
	if r.FPS < 0 || math.IsNaN(r.FPS) || math.IsInf(r.FPS, 0) {
		return fmt.Errorf("invalid fps %v", r.FPS)
	}
	return nil
}

// FrameResult lists the uploaded frames of one request, in time order.
type FrameResult struct {
	ID      string      `json:"id"`
	Objects []ObjectRef `json:"objects"`
	URLs    []string    `json:"urls"`
}
