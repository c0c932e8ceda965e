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
	"os"
	"path"
	"path/filepath"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// DefaultStream is clipped when a request names none.
const DefaultStream = "front"

// ErrNoMatchingFootage is returned when no single file covers a clip window.
var ErrNoMatchingFootage = errors.New("no footage covers the requested window")

// ClipRequest asks for one window of one camera, either from a trip
// (org/key) or from a catalog scenario.
type ClipRequest struct {
	OrgID      string  `json:"org_id"`
	KeyID      string  `json:"key_id"`
	ScenarioID int64   `json:"scenario_id"`
	Stream     string  `json:"stream"`
	Start      float64 `json:"start_ts"`
	End        float64 `json:"end_ts"`
	Preview    bool    `json:"preview_mode"`
}

// ClipResponse describes a previewable or saved clip. Preview responses
// point at the whole source file plus the offset to seek to.
type ClipResponse struct {
	Status      string           `json:"status"`
	Preview     bool             `json:"preview_mode"`
	PreviewURL  string           `json:"preview_url,omitempty"`
	StartOffset float64          `json:"start_offset"`
	Duration    float64          `json:"duration"`
	Source      model.ObjectRef  `json:"source"`
	Object      *model.ObjectRef `json:"object,omitempty"`
	DownloadURL string           `json:"download_url,omitempty"`
}

// ClipService previews and saves single clips.
type ClipService struct {
	manifests  *ManifestResolver
	transcoder Transcoder
	signer     URLSigner
	store      ObjectStore
	config     *cloud.Config
}

// NewClipService wires a ClipService.
func NewClipService(manifests *ManifestResolver, transcoder Transcoder, signer URLSigner, store ObjectStore, config *cloud.Config) *ClipService {
	return &ClipService{manifests: manifests, transcoder: transcoder, signer: signer, store: store, config: config}
}

// Plan matches the request against the trip's footage.
func (s *ClipService) Plan(ctx context.Context, req ClipRequest) (*model.ClipPlan, error) {
	window := model.TimeSpan{Start: req.Start, End: req.End}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	stream := req.Stream
	if stream == "" {
		stream = DefaultStream
	}
	manifest, err := s.manifests.Manifest(ctx, &model.ExportRequest{
		ScenarioID: req.ScenarioID,
		Trip:       model.TripRef{OrgID: req.OrgID, KeyID: req.KeyID},
	})
	if err != nil {
		return nil, err
	}
	files := manifest.Videos[stream]
	res := align.Plan(model.CropRequest{Window: window, Candidates: align.Candidates(files)})
	if !res.OK() || res.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s [%v, %v]", ErrNoMatchingFootage, stream, req.Start, req.End)
	}
	for _, f := range files {
		if f.Object.Name == res.Matched.ID {
			return &model.ClipPlan{Source: f.Object, Window: window, RelativeOffset: res.RelativeOffset, Duration: res.Duration}, nil
		}
	}
	return nil, ErrNoMatchingFootage
}

// Clip previews or saves the requested clip. Saved clips are uploaded to the
// export bucket under clips/<org>/<key>/.
func (s *ClipService) Clip(ctx context.Context, req ClipRequest) (*ClipResponse, error) {
	plan, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	sourceURL, err := s.signer.SignedURL(ctx, plan.Source, s.config.SignedURLTTL())
	if err != nil {
		return nil, err
	}
	out := &ClipResponse{
		Status:      "ok",
		Preview:     req.Preview,
		StartOffset: plan.RelativeOffset,
		Duration:    plan.Duration,
		Source:      plan.Source,
	}
	if req.Preview {
		out.PreviewURL = sourceURL
		return out, nil
	}

	dir, err := os.MkdirTemp(s.config.Storage.WorkDir, "clip-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	name := align.ClipName(plan.Window)
	local := filepath.Join(dir, name)
	if err := s.transcoder.Clip(ctx, *plan, sourceURL, local); err != nil {
		return nil, err
	}

	owner := fmt.Sprintf("scenario-%d", req.ScenarioID)
	if req.ScenarioID == 0 {
		owner = path.Join(req.OrgID, req.KeyID)
	}
	ref := model.ObjectRef{Bucket: s.config.Storage.ExportBucket, Name: path.Join("clips", owner, name)}
	f, err := os.Open(local)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := s.store.Upload(ctx, ref, "video/mp4", f); err != nil {
		return nil, err
	}
	if out.DownloadURL, err = s.signer.SignedURL(ctx, ref, s.config.SignedURLTTL()); err != nil {
		return nil, err
	}
	out.Object = &ref
	return out, nil
}
