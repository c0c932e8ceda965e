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

package commands_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/commands"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/testutil"
)

func newChainContext(in interface{}) cor.Context {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	if in != nil {
		chainCtx.Add(cor.CtxIn, in)
	}
	return chainCtx
}

func TestExportRequestReader(t *testing.T) {
	reader := commands.NewExportRequestReader("read-export-request")

	chainCtx := newChainContext(`{"trip":{"org_id":"org-001","key_id":"key-042"},"segments":[{"start":10,"end":20}]}`)
	require.True(t, reader.IsExecutable(chainCtx))
	reader.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())

	req, ok := cor.Get[*model.ExportRequest](chainCtx, commands.ExportRequestParam)
	require.True(t, ok)
	assert.NotEmpty(t, req.ID, "an id is assigned")
	assert.Equal(t, "key-042", req.Trip.KeyID)
	assert.Same(t, req, chainCtx.Get(cor.CtxOut))

	given := &model.ExportRequest{ID: "fixed", ScenarioID: 3, Segments: []model.TimeSpan{{Start: 1, End: 2}}}
	chainCtx = newChainContext(given)
	reader.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, "fixed", chainCtx.Get(commands.ExportRequestParam).(*model.ExportRequest).ID)
}

func TestExportRequestReaderRejects(t *testing.T) {
	reader := commands.NewExportRequestReader("read-export-request")

	chainCtx := newChainContext("{not json")
	reader.Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())
	assert.Nil(t, chainCtx.Get(commands.ExportRequestParam))

	chainCtx = newChainContext(&model.ExportRequest{ScenarioID: 3, Segments: []model.TimeSpan{{Start: 2, End: 1}}})
	reader.Execute(chainCtx)
	require.True(t, chainCtx.HasErrors())
	assert.ErrorIs(t, chainCtx.GetErrors()["read-export-request"], model.ErrInvalidSpan)
	assert.NotNil(t, chainCtx.Get(commands.ExportRequestParam), "rejected requests stay visible to the ledger")
	assert.Nil(t, chainCtx.Get(cor.CtxOut))
}

type staticManifest struct {
	manifest *model.TripManifest
	err      error
}

func (s staticManifest) Manifest(context.Context, *model.ExportRequest) (*model.TripManifest, error) {
	return s.manifest, s.err
}

func TestTripManifestResolver(t *testing.T) {
	m := &model.TripManifest{GPS: model.ObjectRef{Bucket: "b", Name: "gps.parquet"}}
	cmd := commands.NewTripManifestResolver("resolve-manifest", staticManifest{manifest: m})

	chainCtx := newChainContext(&model.ExportRequest{ID: "x"})
	cmd.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Same(t, m, chainCtx.Get(commands.ManifestParam))

	cmd = commands.NewTripManifestResolver("resolve-manifest", staticManifest{err: errors.New("catalog down")})
	chainCtx = newChainContext(&model.ExportRequest{ID: "x"})
	cmd.Execute(chainCtx)
	assert.EqualError(t, chainCtx.GetErrors()["resolve-manifest"], "catalog down")
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
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

func TestWriteBundleLayout(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	gps := filepath.Join(dir, "gps.parquet")
	require.NoError(t, os.WriteFile(clip, testutil.MP4Header, 0o644))
	require.NoError(t, os.WriteFile(gps, []byte("PAR1"), 0o644))

	gpsResult := model.CropResult{Status: model.CropOk, RowCount: 3, Output: gps}
	sets := []model.SegmentExportSet{
		{
			SegmentIndex: 0,
			Window:       model.TimeSpan{Start: 10, End: 20},
			Video: map[string]model.CropResult{
				"front": {Status: model.CropOk, Duration: 10, Output: clip},
				"rear":  {Status: model.CropOk, Duration: 10, Output: "gs://footage/rear.mp4"},
			},
			GPS: &gpsResult,
			IMU: map[string]model.CropResult{"gyro": model.Failed(errors.New("boom"))},
		},
		{
			SegmentIndex: 1,
			Window:       model.TimeSpan{Start: 30, End: 40},
			Video:        map[string]model.CropResult{"front": model.NoData("no footage")},
			IMU:          map[string]model.CropResult{},
		},
	}
	req := &model.ExportRequest{ID: "exp-1", Trip: model.TripRef{OrgID: "org-001", KeyID: "key-042"}}

	var buf bytes.Buffer
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, commands.WriteBundle(&buf, req, sets, now))
	files := readZip(t, buf.Bytes())

	assert.Equal(t, testutil.MP4Header, files["segment_0/video_front.mp4"])
	assert.Equal(t, []byte("PAR1"), files["segment_0/gps.parquet"])
	assert.NotContains(t, files, "segment_0/video_rear.mp4")
	assert.NotContains(t, files, "segment_0/imu_gyro.parquet")
	assert.Contains(t, files, "segment_1/manifest.json")

	var index commands.BundleIndex
	require.NoError(t, json.Unmarshal(files["export.json"], &index))
	assert.Equal(t, commands.BundleIndex{
		ID:        "exp-1",
		Trip:      req.Trip,
		Segments:  2,
		Failures:  1,
		CreatedAt: "2024-05-01T12:00:00Z",
	}, index)

	var seg0 struct {
		Files []string                    `json:"files"`
		IMU   map[string]model.CropResult `json:"imu"`
		Video map[string]model.CropResult `json:"video"`
	}
	require.NoError(t, json.Unmarshal(files["segment_0/manifest.json"], &seg0))
	assert.Equal(t, []string{"segment_0/video_front.mp4", "segment_0/gps.parquet"}, seg0.Files)
	assert.Equal(t, model.CropFailed, seg0.IMU["gyro"].Status)
	assert.Equal(t, "boom", seg0.IMU["gyro"].Message)
	assert.Equal(t, "gs://footage/rear.mp4", seg0.Video["rear"].Output)
}

func TestExportBundler(t *testing.T) {
	workDir := t.TempDir()
	bundler := commands.NewExportBundler("bundle-export", workDir)

	chainCtx := newChainContext([]model.SegmentExportSet{{SegmentIndex: 0, Video: map[string]model.CropResult{}, IMU: map[string]model.CropResult{}}})
	assert.False(t, bundler.IsExecutable(chainCtx), "needs the request")

	chainCtx.Add(commands.ExportRequestParam, &model.ExportRequest{ID: "exp-2"})
	require.True(t, bundler.IsExecutable(chainCtx))
	bundler.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())

	bundle := chainCtx.Get(cor.CtxOut).(string)
	assert.Equal(t, workDir, filepath.Dir(bundle))
	assert.FileExists(t, bundle)
	assert.Contains(t, chainCtx.GetTempFiles(), bundle)
}

func TestGCSFileUpload(t *testing.T) {
	store := testutil.NewMemoryStore()
	dir := t.TempDir()
	local := filepath.Join(dir, "exp-3.zip")
	var zipped bytes.Buffer
	require.NoError(t, commands.WriteBundle(&zipped, &model.ExportRequest{ID: "exp-3"}, nil, time.Now()))
	require.NoError(t, os.WriteFile(local, zipped.Bytes(), 0o644))

	idOf := func(c cor.Context) string { return c.Get(commands.ExportRequestParam).(*model.ExportRequest).ID }
	upload := commands.NewGCSFileUpload("upload-bundle", store, testutil.ExportBucket, commands.UnderPrefix("exports", idOf))

	chainCtx := newChainContext(local)
	chainCtx.Add(commands.ExportRequestParam, &model.ExportRequest{ID: "exp-3"})
	upload.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())

	want := model.ObjectRef{Bucket: testutil.ExportBucket, Name: "exports/exp-3/exp-3.zip"}
	assert.Equal(t, want, chainCtx.Get(cor.CtxOut))
	assert.Equal(t, []model.ObjectRef{want}, chainCtx.Get(commands.UploadedParam))
	assert.Equal(t, "application/zip", store.ContentType(want))
	assert.NoFileExists(t, local, "uploaded files are removed")
}

func TestGCSFileUploadMany(t *testing.T) {
	store := testutil.NewMemoryStore()
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "frame_00001.jpg"), filepath.Join(dir, "frame_00002.jpg")}
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, testutil.JPEGHeader, 0o644))
	}
	upload := commands.NewGCSFileUpload("upload-frames", store, "frames-bucket", nil)

	chainCtx := newChainContext(paths)
	upload.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, []string{"frame_00001.jpg", "frame_00002.jpg"}, store.Names("frames-bucket"))
	assert.Equal(t, "image/jpeg", store.ContentType(model.ObjectRef{Bucket: "frames-bucket", Name: "frame_00001.jpg"}))

	chainCtx = newChainContext([]string{filepath.Join(dir, "missing.jpg")})
	upload.Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())

	chainCtx = newChainContext(42)
	upload.Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())
}

func TestSignedURL(t *testing.T) {
	ttl := 30 * time.Minute
	cmd := commands.NewSignedURL("sign", &testutil.StaticSigner{}, ttl)
	ref := model.ObjectRef{Bucket: "b", Name: "o.zip"}

	chainCtx := newChainContext(ref)
	cmd.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, testutil.SignedURLFor(ref, ttl), chainCtx.Get(cor.CtxOut))

	refs := []model.ObjectRef{ref, {Bucket: "b", Name: "p.zip"}}
	chainCtx = newChainContext(refs)
	cmd.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Len(t, chainCtx.Get(cor.CtxOut), 2)

	cmd = commands.NewSignedURL("sign", &testutil.StaticSigner{Err: errors.New("quota")}, ttl)
	chainCtx = newChainContext(ref)
	cmd.Execute(chainCtx)
	assert.ErrorContains(t, chainCtx.GetErrors()["sign"], "quota")
}

type memoryLedger struct {
	records []*model.ExportRecord
	err     error
}

func (m *memoryLedger) SaveExport(_ context.Context, r *model.ExportRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func setsWithFailures(failed, ok int) []model.SegmentExportSet {
	video := make(map[string]model.CropResult)
	for i := 0; i < failed; i++ {
		video[string(rune('a'+i))] = model.Failed(errors.New("x"))
	}
	for i := 0; i < ok; i++ {
		video[string(rune('m'+i))] = model.CropResult{Status: model.CropOk}
	}
	return []model.SegmentExportSet{{Video: video, IMU: map[string]model.CropResult{}}}
}

func TestBuildExportRecord(t *testing.T) {
	req := &model.ExportRequest{ID: "exp-4", ScenarioID: 9, Segments: []model.TimeSpan{{Start: 0, End: 1}}}
	now := time.Now()

	chainCtx := newChainContext(nil)
	chainCtx.Add(commands.SegmentsParam, setsWithFailures(0, 2))
	chainCtx.Add(commands.UploadedParam, []model.ObjectRef{{Bucket: "exports", Name: "exp-4.zip"}})
	rec := commands.BuildExportRecord(chainCtx, req, now)
	assert.Equal(t, model.ExportComplete, rec.Status)
	assert.Equal(t, "exp-4.zip", rec.Object)
	assert.Equal(t, int64(9), rec.ScenarioID)
	assert.Equal(t, 1, rec.SegmentCount)

	chainCtx = newChainContext(nil)
	chainCtx.Add(commands.SegmentsParam, setsWithFailures(1, 1))
	assert.Equal(t, model.ExportPartial, commands.BuildExportRecord(chainCtx, req, now).Status)

	chainCtx = newChainContext(nil)
	chainCtx.Add(commands.SegmentsParam, setsWithFailures(2, 0))
	assert.Equal(t, model.ExportFailed, commands.BuildExportRecord(chainCtx, req, now).Status)

	chainCtx = newChainContext(nil)
	chainCtx.AddError("upload-bundle", errors.New("bucket gone"))
	rec = commands.BuildExportRecord(chainCtx, req, now)
	assert.Equal(t, model.ExportFailed, rec.Status)
	assert.Contains(t, rec.Error, "upload-bundle: bucket gone")
}

func TestExportRecordPersist(t *testing.T) {
	ledger := &memoryLedger{}
	cmd := commands.NewExportRecordPersist("persist-export", ledger)

	chainCtx := newChainContext(nil)
	assert.False(t, cmd.IsExecutable(chainCtx))

	chainCtx.Add(commands.ExportRequestParam, &model.ExportRequest{ID: "exp-5"})
	cmd.Execute(chainCtx)
	require.Len(t, ledger.records, 1)
	assert.Equal(t, "exp-5", ledger.records[0].ID)
	assert.Same(t, ledger.records[0], chainCtx.Get(commands.ExportRecordParam))

	ledger.err = errors.New("disk full")
	chainCtx = newChainContext(nil)
	chainCtx.Add(commands.ExportRequestParam, &model.ExportRequest{ID: "exp-6"})
	cmd.Execute(chainCtx)
	assert.False(t, chainCtx.HasErrors(), "ledger failures are logged, not raised")
}

func TestFrameCommands(t *testing.T) {
	config := testutil.NewConfig(t)
	transcoder := &testutil.FakeTranscoder{Frames: 2}
	reader := commands.NewFrameRequestReader("read-frame-request", 2)
	extractor := commands.NewFrameExtractor("extract-frames", transcoder, &testutil.StaticSigner{}, config)

	chainCtx := newChainContext(`{"source":{"bucket":"test-footage","name":"a-front.mp4"}}`)
	reader.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	req := chainCtx.Get(commands.FrameRequestParam).(*model.FrameRequest)
	assert.Equal(t, 2.0, req.FPS)
	assert.NotEmpty(t, req.ID)

	chainCtx.Add(cor.CtxIn, req)
	extractor.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	frames := chainCtx.Get(cor.CtxOut).([]string)
	require.Len(t, frames, 2)
	assert.Equal(t, "frame_00001.jpg", filepath.Base(frames[0]))

	chainCtx.Close()
	assert.NoFileExists(t, frames[0], "frames live in a chain-owned scratch dir")

	chainCtx = newChainContext(&model.FrameRequest{})
	reader.Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())
}
