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
	"slices"
	"sort"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

var (
	// ErrScenarioNotFound is returned when the catalog has no record for an id.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrUnknownEventType is returned for event names outside EventTypes.
	ErrUnknownEventType = errors.New("unknown event type")
)

// EventTypes lists the on-device detections a scenario query may filter on.
var EventTypes = []string{
	"fcw", "harsh-brake", "lane-departure", "left-turn", "right-turn",
	"u-turn", "pedestrian", "traffic-light", "stop-sign", "yield-sign",
	"speed-limit", "construction-zone", "school-zone", "emergency-vehicle",
	"weather-condition", "road-condition",
}

// Query bounds.
const (
	DefaultDaysBack = 7
	DefaultLimit    = 50
	MaxLimit        = 500
)

// ScenarioQuery selects successful scenarios that carry every listed event.
type ScenarioQuery struct {
	EventTypes []string `json:"event_types"`
	DaysBack   int      `json:"days_back"`
	Limit      int      `json:"limit"`
}

// Normalize applies defaults, deduplicates events and rejects unknown ones.
func (q *ScenarioQuery) Normalize() error {
	if q.DaysBack <= 0 {
		q.DaysBack = DefaultDaysBack
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	seen := make(map[string]bool, len(q.EventTypes))
	events := make([]string, 0, len(q.EventTypes))
	for _, e := range q.EventTypes {
		if !slices.Contains(EventTypes, e) {
			return fmt.Errorf("%w: %q", ErrUnknownEventType, e)
		}
		if !seen[e] {
			seen[e] = true
			events = append(events, e)
		}
	}
	q.EventTypes = events
	return nil
}

// Catalog is the read-only scenario store.
type Catalog interface {
	ListScenarios(ctx context.Context, q ScenarioQuery) ([]model.Scenario, error)
	GetScenario(ctx context.Context, id int64) (*model.Scenario, error)
}

// PrimaryEventType picks the scenario's headline event: the first known event
// in detection id order, or "unknown".
func PrimaryEventType(links model.DataLinks) string {
	ids := make([]string, 0, len(links.CoreML))
	for id := range links.CoreML {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if e := links.CoreML[id].Event; slices.Contains(EventTypes, e) {
			return e
		}
	}
	return "unknown"
}
