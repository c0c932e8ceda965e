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

package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/workflow"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/testutil"
)

// tripStart is 2024-05-01 12:00:00 UTC.
const tripStart = 1714564800.0

var trip = model.TripRef{OrgID: "org-001", KeyID: "key-042"}

type harness struct {
	config     *cloud.Config
	store      *testutil.MemoryStore
	transcoder *testutil.FakeTranscoder
	ledger     *services.ReviewStore
	deps       workflow.Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		config:     testutil.NewConfig(t),
		store:      testutil.NewMemoryStore(),
		transcoder: &testutil.FakeTranscoder{},
	}
	start := time.Unix(int64(tripStart), 0)
	testutil.SeedTrip(t, h.store, trip, []time.Time{start, start.Add(time.Minute)}, tripStart, 120)

	var err error
	h.ledger, err = services.OpenReviewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.ledger.Close() })

	signer := &testutil.StaticSigner{}
	tabular := services.NewParquetSource(h.store, h.config.Export.TimestampColumn)
	footage := services.NewFootageService(h.store, signer, tabular, h.config)
	h.deps = workflow.Dependencies{
		Manifests:  services.NewManifestResolver(footage, nil, h.config),
		Tabular:    tabular,
		Transcoder: h.transcoder,
		Signer:     signer,
		Store:      h.store,
		Ledger:     h.ledger,
	}
	return h
}

func (h *harness) bundle(t *testing.T, ref model.ObjectRef) map[string][]byte {
	t.Helper()
	data, ok := h.store.Get(ref)
	require.True(t, ok, "bundle %s uploaded", ref)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = b
	}
	return out
}

func window(from, to float64) model.TimeSpan {
	return model.TimeSpan{Start: tripStart + from, End: tripStart + to}
}

func TestSegmentExportWorkflow(t *testing.T) {
	h := newHarness(t)
	w := workflow.NewSegmentExportWorkflow(h.config, h.deps)
	ctx := context.Background()

	res, err := w.Run(ctx, &model.ExportRequest{
		Trip:     trip,
		Segments: []model.TimeSpan{window(10, 20), window(65, 75), window(55, 65)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	require.Len(t, res.Segments, 3)

	assert.True(t, strings.HasPrefix(res.Object.Name, "exports/"+res.ID+"/"))
	assert.Equal(t, testutil.ExportBucket, res.Object.Bucket)
	assert.Equal(t, testutil.SignedURLFor(res.Object, h.config.SignedURLTTL()), res.DownloadURL)

	first := res.Segments[0]
	assert.Equal(t, model.CropOk, first.Video["front"].Status)
	assert.Equal(t, 10.0, first.Video["front"].RelativeOffset)
	assert.Equal(t, model.CropNoData, first.Video["left"].Status)
	assert.Equal(t, 11, first.GPS.RowCount)
	assert.Equal(t, 21, first.IMU["gyro"].RowCount)

	straddling := res.Segments[2]
	assert.Equal(t, model.CropNoData, straddling.Video["front"].Status, "no single file covers the window")
	assert.Equal(t, model.CropOk, straddling.GPS.Status)

	files := h.bundle(t, res.Object)
	for _, name := range []string{
		"export.json",
		"segment_0/manifest.json",
		"segment_0/video_front.mp4",
		"segment_0/video_rear.mp4",
		"segment_0/gps.parquet",
		"segment_0/imu_gyro.parquet",
		"segment_0/imu_accel.parquet",
		"segment_1/video_front.mp4",
		"segment_2/gps.parquet",
	} {
		assert.Contains(t, files, name)
	}
	assert.NotContains(t, files, "segment_2/video_front.mp4")
	assert.Equal(t, 4, h.transcoder.ClipCount())

	record, err := h.ledger.GetExport(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportComplete, record.Status)
	assert.Equal(t, 3, record.SegmentCount)
	assert.Equal(t, res.Object.Name, record.Object)
}

func TestSegmentExportWorkflowPartial(t *testing.T) {
	h := newHarness(t)
	h.transcoder.FailSource = "org-001/key-042/2024-05-01_12-00-00-rear.mp4"
	w := workflow.NewSegmentExportWorkflow(h.config, h.deps)
	ctx := context.Background()

	payload, err := json.Marshal(model.ExportRequest{
		ID:           "partial-1",
		Trip:         trip,
		Segments:     []model.TimeSpan{window(10, 20), window(70, 80)},
		VideoStreams: []string{"front", "rear"},
		IMUChannels:  []string{"gyro"},
	})
	require.NoError(t, err)

	res, err := w.Run(ctx, string(payload))
	require.NoError(t, err, "a failed sub-result does not fail the export")
	assert.Equal(t, model.CropFailed, res.Segments[0].Video["rear"].Status)
	assert.Equal(t, model.CropOk, res.Segments[0].Video["front"].Status)
	assert.Equal(t, model.CropOk, res.Segments[1].Video["rear"].Status)
	assert.NotContains(t, res.Segments[0].IMU, "accel")

	files := h.bundle(t, res.Object)
	assert.NotContains(t, files, "segment_0/video_rear.mp4")
	assert.Contains(t, files, "segment_1/video_rear.mp4")

	record, err := h.ledger.GetExport(ctx, "partial-1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportPartial, record.Status)
	assert.Equal(t, 1, record.Failures)
}

func TestSegmentExportWorkflowPlanOnly(t *testing.T) {
	h := newHarness(t)
	h.config.Export.MaterializeVideo = false
	w := workflow.NewSegmentExportWorkflow(h.config, h.deps)

	res, err := w.Run(context.Background(), &model.ExportRequest{Trip: trip, Segments: []model.TimeSpan{window(10, 20)}})
	require.NoError(t, err)
	assert.Zero(t, h.transcoder.ClipCount())
	assert.Equal(t, "gs://test-footage/org-001/key-042/2024-05-01_12-00-00-front.mp4", res.Segments[0].Video["front"].Output)

	files := h.bundle(t, res.Object)
	assert.NotContains(t, files, "segment_0/video_front.mp4")
	assert.Contains(t, files, "segment_0/gps.parquet")
}

func TestSegmentExportWorkflowRejectsRequest(t *testing.T) {
	h := newHarness(t)
	w := workflow.NewSegmentExportWorkflow(h.config, h.deps)
	ctx := context.Background()

	_, err := w.Run(ctx, &model.ExportRequest{ID: "bad-1", Trip: trip, Segments: []model.TimeSpan{window(20, 10)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidSpan)
	assert.Empty(t, h.store.Names(testutil.ExportBucket))

	record, err := h.ledger.GetExport(ctx, "bad-1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportFailed, record.Status)
	assert.Contains(t, record.Error, "read-export-request")

	_, err = w.Run(ctx, "{not json")
	assert.Error(t, err)
}

func TestSegmentExportWorkflowUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.deps.Signer = &testutil.StaticSigner{Err: errors.New("signing quota exhausted")}
	h.config.Export.MaterializeVideo = false
	w := workflow.NewSegmentExportWorkflow(h.config, h.deps)

	res, err := w.Run(context.Background(), &model.ExportRequest{ID: "sign-1", Trip: trip, Segments: []model.TimeSpan{window(10, 20)}})
	assert.ErrorContains(t, err, "signing quota exhausted")
	assert.Len(t, res.Segments, 1, "assembled segments are still reported")
	assert.Empty(t, res.DownloadURL)
}

func TestFrameExtractionWorkflow(t *testing.T) {
	h := newHarness(t)
	h.transcoder.Frames = 4
	w := workflow.NewFrameExtractionWorkflow(h.config, h.deps)

	source := model.ObjectRef{Bucket: testutil.FootageBucket, Name: "org-001/key-042/2024-05-01_12-00-00-front.mp4"}
	res, err := w.Run(context.Background(), &model.FrameRequest{ID: "frames-1", Source: source})
	require.NoError(t, err)
	assert.Equal(t, "frames-1", res.ID)
	require.Len(t, res.Objects, 4)
	assert.Equal(t, "frames/frames-1/frame_00001.jpg", res.Objects[0].Name)
	assert.Equal(t, testutil.SignedURLFor(res.Objects[3], h.config.SignedURLTTL()), res.URLs[3])

	h.transcoder.Err = errors.New("ffmpeg missing")
	_, err = w.Run(context.Background(), &model.FrameRequest{Source: source})
	assert.ErrorContains(t, err, "ffmpeg missing")
}
