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
	"sort"
	"strings"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

// ErrNoTripData is returned when a trip has no parquet file to load.
var ErrNoTripData = errors.New("no trip data")

// Collection selects which bucket a browse call looks at.
type Collection int

const (
	// Footage is the camera bucket.
	Footage Collection = iota
	// TripData is the parquet bucket.
	TripData
)

// FootageService browses trips laid out as <org>/<key>/... in the footage and
// trip data buckets, and signs URLs for what it finds.
type FootageService struct {
	store   ObjectStore
	signer  URLSigner
	tabular TabularSource
	config  *cloud.Config
}

// NewFootageService wires a FootageService.
func NewFootageService(store ObjectStore, signer URLSigner, tabular TabularSource, config *cloud.Config) *FootageService {
	return &FootageService{store: store, signer: signer, tabular: tabular, config: config}
}

func (s *FootageService) bucket(c Collection) string {
	if c == TripData {
		return s.config.Storage.TripDataBucket
	}
	return s.config.Storage.FootageBucket
}

// ListOrgs returns the organisation IDs at the top of the collection.
func (s *FootageService) ListOrgs(ctx context.Context, c Collection) ([]string, error) {
	return s.listChildren(ctx, s.bucket(c), "")
}

// ListKeys returns the key IDs recorded for an organisation.
func (s *FootageService) ListKeys(ctx context.Context, c Collection, orgID string) ([]string, error) {
	if orgID == "" {
		return nil, errors.New("org id is required")
	}
	return s.listChildren(ctx, s.bucket(c), orgID+"/")
}

func (s *FootageService) listChildren(ctx context.Context, bucket, prefix string) ([]string, error) {
	listing, err := s.store.List(ctx, bucket, prefix, "/")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(listing.Prefixes))
	for _, p := range listing.Prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/")
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListTripFiles returns the parquet objects of a trip, sorted by name.
func (s *FootageService) ListTripFiles(ctx context.Context, trip model.TripRef) ([]model.ObjectRef, error) {
	bucket := s.bucket(TripData)
	listing, err := s.store.List(ctx, bucket, trip.Prefix(), "")
	if err != nil {
		return nil, err
	}
	out := make([]model.ObjectRef, 0, len(listing.Names))
	for _, n := range listing.Names {
		if strings.HasSuffix(n, ".parquet") {
			out = append(out, model.ObjectRef{Bucket: bucket, Name: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListVideos returns a trip's camera files grouped by stream, each group in
// timeline order.
func (s *FootageService) ListVideos(ctx context.Context, trip model.TripRef) (map[string][]model.VideoFile, error) {
	bucket := s.bucket(Footage)
	listing, err := s.store.List(ctx, bucket, trip.Prefix(), "")
	if err != nil {
		return nil, err
	}
	return align.IndexVideos(bucket, listing.Names, s.config.ClipLength()), nil
}

// ListAssets returns the match candidates for one stream of a trip.
func (s *FootageService) ListAssets(ctx context.Context, trip model.TripRef, stream string) ([]model.SourceAsset, error) {
	videos, err := s.ListVideos(ctx, trip)
	if err != nil {
		return nil, err
	}
	return align.Candidates(videos[stream]), nil
}

// Manifest collects everything an export of the trip can draw from: its
// videos, the GPS parquet and one parquet per configured IMU channel.
func (s *FootageService) Manifest(ctx context.Context, trip model.TripRef) (*model.TripManifest, error) {
	videos, err := s.ListVideos(ctx, trip)
	if err != nil {
		return nil, err
	}
	files, err := s.ListTripFiles(ctx, trip)
	if err != nil {
		return nil, err
	}
	out := &model.TripManifest{Videos: videos, IMU: make(map[string]model.ObjectRef)}
	for _, f := range files {
		if out.GPS.IsZero() && strings.HasSuffix(f.Name, s.config.Export.GPSObjectSuffix) {
			out.GPS = f
		}
		for ch, suffix := range s.config.Export.IMUObjectSuffixes {
			if _, ok := out.IMU[ch]; !ok && suffix != "" && strings.HasSuffix(f.Name, suffix) {
				out.IMU[ch] = f
			}
		}
	}
	return out, nil
}

// SignedURL signs ref with the configured lifetime.
func (s *FootageService) SignedURL(ctx context.Context, ref model.ObjectRef) (string, error) {
	return s.signer.SignedURL(ctx, ref, s.config.SignedURLTTL())
}

// VideoURL signs a footage object given its name inside the footage bucket.
func (s *FootageService) VideoURL(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("object name is required")
	}
	return s.SignedURL(ctx, model.ObjectRef{Bucket: s.bucket(Footage), Name: name})
}

// GPSFile returns the index-th parquet file of a trip and the number of files.
func (s *FootageService) GPSFile(ctx context.Context, trip model.TripRef, index int) (model.ObjectRef, int, error) {
	files, err := s.ListTripFiles(ctx, trip)
	if err != nil {
		return model.ObjectRef{}, 0, err
	}
	if index < 0 || index >= len(files) {
		return model.ObjectRef{}, len(files), fmt.Errorf("%w: %s has %d files, asked for #%d", ErrNoTripData, trip.Prefix(), len(files), index)
	}
	return files[index], len(files), nil
}

// LoadGPS reads a parquet file and returns its valid GPS fixes.
func (s *FootageService) LoadGPS(ctx context.Context, ref model.ObjectRef) ([]model.GPSPoint, error) {
	rows, err := s.tabular.LoadRows(ctx, ref)
	if err != nil {
		return nil, err
	}
	return tabular.ExtractGPS(rows), nil
}
