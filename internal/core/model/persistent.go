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

import (
	"sort"
	"time"
)

// DataLinks is the JSON document attached to every catalog scenario. Stream
// links are full object URLs (gs:// or s3://).
type DataLinks struct {
	Video     map[string]string      `json:"video,omitempty"`
	Trip      map[string]string      `json:"trip,omitempty"`
	IMU       map[string]string      `json:"imu,omitempty"`
	CoreML    map[string]CoreMLEvent `json:"coreml,omitempty"`
	StartTime *float64               `json:"start_time,omitempty"`
	EndTime   *float64               `json:"end_time,omitempty"`
}

// CoreMLEvent is one on-device detection recorded for a scenario.
type CoreMLEvent struct {
	Event       string   `json:"event"`
	Timestamp   *float64 `json:"timestamp,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Scenario is one processed trip record from the catalog.
type Scenario struct {
	ID        int64     `json:"id" bigquery:"id"`
	CreatedAt time.Time `json:"created_at" bigquery:"created_at"`
	Status    string    `json:"dmp_status" bigquery:"dmp_status"`
	StartTime float64   `json:"start_time" bigquery:"start_time"`
	EndTime   float64   `json:"end_time" bigquery:"end_time"`
	EventType string    `json:"event_type"`
	DataLinks DataLinks `json:"data_links"`
}

// Span returns the scenario's footage span. Bounds set inside the data links
// win over the catalog columns.
func (s *Scenario) Span() TimeSpan {
	out := TimeSpan{Start: s.StartTime, End: s.EndTime}
	if s.DataLinks.StartTime != nil {
		out.Start = *s.DataLinks.StartTime
	}
	if s.DataLinks.EndTime != nil {
		out.End = *s.DataLinks.EndTime
	}
	if out.End <= out.Start {
		out.End = out.Start + 60
	}
	return out
}

// Activity is a detection placed on the scenario's video timeline.
type Activity struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Offset      float64 `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// Activities returns the detections whose timestamps fall inside the
// scenario's span, as offsets from its start, in timeline order.
func (s *Scenario) Activities() []Activity {
	span := s.Span()
	out := make([]Activity, 0, len(s.DataLinks.CoreML))
	for id, e := range s.DataLinks.CoreML {
		if e.Timestamp == nil || !span.Contains(*e.Timestamp) {
			continue
		}
		a := Activity{
			ID:          id,
			Type:        e.Event,
			Offset:      *e.Timestamp - span.Start,
			Confidence:  0.8,
			Description: e.Description,
		}
		if e.Confidence != nil {
			a.Confidence = *e.Confidence
		}
		if a.Type == "" {
			a.Type = "unknown"
		}
		if a.Description == "" {
			a.Description = "Event " + id
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Offset == out[j].Offset {
			return out[i].ID < out[j].ID
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

// ReviewSegment is one window an analyst flagged during review.
type ReviewSegment struct {
	Start       float64 `json:"start_time"`
	End         float64 `json:"end_time"`
	Interesting bool    `json:"interesting"`
	Notes       string  `json:"notes,omitempty"`
}

// Review is an analyst's verdict on a scenario.
type Review struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	ScenarioID int64           `json:"scenario_id" gorm:"index;not null"`
	Reviewer   string          `json:"reviewer"`
	Segments   []ReviewSegment `json:"segments" gorm:"serializer:json"`
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ExportStatus tracks an export through its lifecycle.
type ExportStatus string

const (
	ExportRunning  ExportStatus = "running"
	ExportComplete ExportStatus = "complete"
	ExportPartial  ExportStatus = "partial"
	ExportFailed   ExportStatus = "failed"
)

// ExportRecord is the persisted ledger entry of one export.
type ExportRecord struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	ScenarioID   int64        `json:"scenario_id,omitempty"`
	OrgID        string       `json:"org_id,omitempty"`
	KeyID        string       `json:"key_id,omitempty"`
	SegmentCount int          `json:"segment_count"`
	Failures     int          `json:"failures"`
	Status       ExportStatus `json:"status"`
	Bucket       string       `json:"bucket,omitempty"`
	Object       string       `json:"object,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
