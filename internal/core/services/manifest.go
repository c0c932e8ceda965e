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
	"log/slog"
	"sort"
	"strings"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ConsoleTripLink is the trip link holding the GPS parquet.
const ConsoleTripLink = "console_trip"

// ResolveDataLinks turns a scenario's data links into a trip manifest. Each
// linked video covers the scenario's span. Links that cannot be parsed are
// logged and skipped so one bad stream does not hide the others.
func ResolveDataLinks(s *model.Scenario, config *cloud.Config) *model.TripManifest {
	out := &model.TripManifest{
		Videos: make(map[string][]model.VideoFile),
		IMU:    make(map[string]model.ObjectRef),
	}
	span := s.Span()

	streams := make([]string, 0, len(s.DataLinks.Video))
	for stream := range s.DataLinks.Video {
		streams = append(streams, stream)
	}
	sort.Strings(streams)
	for _, stream := range streams {
		ref, ok := resolveLink(s.ID, "video."+stream, s.DataLinks.Video[stream], config)
		if !ok {
			continue
		}
		out.Videos[stream] = []model.VideoFile{{Object: ref, Stream: stream, Span: span}}
	}

	if ref, ok := resolveLink(s.ID, "trip."+ConsoleTripLink, s.DataLinks.Trip[ConsoleTripLink], config); ok {
		out.GPS = ref
	}
	for ch, link := range s.DataLinks.IMU {
		if ref, ok := resolveLink(s.ID, "imu."+ch, link, config); ok {
			out.IMU[ch] = ref
		}
	}
	return out
}

func resolveLink(id int64, name, link string, config *cloud.Config) (model.ObjectRef, bool) {
	if link == "" || strings.EqualFold(link, "null") {
		return model.ObjectRef{}, false
	}
	ref, err := cloud.ParseObjectURL(link)
	if err != nil {
		slog.Warn("ignoring data link", "scenario", id, "link", name, "error", err)
		return model.ObjectRef{}, false
	}
	ref.Bucket = config.ResolveBucket(ref.Bucket)
	return ref, true
}

// ManifestResolver finds what an export request can draw from: a catalog
// scenario's links when the request names one, otherwise the trip listing.
type ManifestResolver struct {
	footage *FootageService
	catalog Catalog
	config  *cloud.Config
}

// NewManifestResolver wires a ManifestResolver. The catalog may be nil when
// only trip exports are served.
func NewManifestResolver(footage *FootageService, catalog Catalog, config *cloud.Config) *ManifestResolver {
	return &ManifestResolver{footage: footage, catalog: catalog, config: config}
}

// Manifest implements the lookup described on ManifestResolver.
func (m *ManifestResolver) Manifest(ctx context.Context, req *model.ExportRequest) (*model.TripManifest, error) {
	if req.ScenarioID != 0 && m.catalog != nil {
		s, err := m.catalog.GetScenario(ctx, req.ScenarioID)
		if err != nil {
			return nil, err
		}
		return ResolveDataLinks(s, m.config), nil
	}
	return m.footage.Manifest(ctx, req.Trip)
}
