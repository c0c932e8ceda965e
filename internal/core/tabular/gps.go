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

package tabular

import (
	"math"
	"sort"
	"strings"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// GPSColumns names the fields holding each GPS attribute. Empty means absent.
type GPSColumns struct {
	Lat     string
	Lon     string
	Speed   string
	Heading string
}

// DetectGPSColumns picks the latitude, longitude, speed and heading fields by
// name. Exact names ("lat", "lon") win over keyword matches.
func DetectGPSColumns(rows []model.TimestampedRow) GPSColumns {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Fields {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)

	return GPSColumns{
		Lat:     pickColumn(names, []string{"lat", "latitude"}, []string{"lat"}),
		Lon:     pickColumn(names, []string{"lon", "lng", "longitude"}, []string{"lon", "lng"}),
		Speed:   pickColumn(names, []string{"speed"}, []string{"speed"}),
		Heading: pickColumn(names, []string{"heading", "bearing", "course"}, []string{"heading", "bearing"}),
	}
}

func pickColumn(names, exact, keywords []string) string {
	for _, e := range exact {
		for _, n := range names {
			if strings.EqualFold(n, e) {
				return n
			}
		}
	}
	for _, k := range keywords {
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), k) {
				return n
			}
		}
	}
	return ""
}

// ExtractGPS converts rows into GPS points. Rows with a missing, non-finite or
// out-of-range coordinate are dropped; order is kept.
func ExtractGPS(rows []model.TimestampedRow) []model.GPSPoint {
	cols := DetectGPSColumns(rows)
	out := make([]model.GPSPoint, 0, len(rows))
	if cols.Lat == "" || cols.Lon == "" {
		return out
	}
	for _, r := range rows {
		lat, ok := numeric(r.Fields[cols.Lat])
		if !ok || lat < -90 || lat > 90 {
			continue
		}
		lon, ok := numeric(r.Fields[cols.Lon])
		if !ok || lon < -180 || lon > 180 {
			continue
		}
		p := model.GPSPoint{Lat: lat, Lon: lon, Timestamp: r.Timestamp}
		if v, ok := numeric(r.Fields[cols.Speed]); ok && cols.Speed != "" {
			p.Speed = &v
		}
		if v, ok := numeric(r.Fields[cols.Heading]); ok && cols.Heading != "" {
			p.Heading = &v
		}
		out = append(out, p)
	}
	return out
}

func numeric(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
