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

package export_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/export"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver crops in-memory candidates and rows with the align package.
type fakeResolver struct {
	videos    map[string][]model.SourceAsset
	gps       []model.TimestampedRow
	imu       map[string][]model.TimestampedRow
	failVideo map[string]bool
	gpsErr    error
	panicIMU  bool
	calls     atomic.Int64
	delay     func(window model.TimeSpan) time.Duration
}

func (f *fakeResolver) ResolveVideo(_ context.Context, stream string, w model.TimeSpan) model.CropResult {
	f.calls.Add(1)
	if f.delay != nil {
		time.Sleep(f.delay(w))
	}
	if f.failVideo[stream] {
		return model.Failed(errors.New("listing failed for " + stream))
	}
	return align.Plan(model.CropRequest{Window: w, Candidates: f.videos[stream]})
}

func (f *fakeResolver) ResolveGPS(_ context.Context, w model.TimeSpan) model.CropResult {
	f.calls.Add(1)
	if f.gpsErr != nil {
		return model.Failed(f.gpsErr)
	}
	return align.Crop(f.gps, w)
}

func (f *fakeResolver) ResolveIMU(_ context.Context, ch string, w model.TimeSpan) model.CropResult {
	f.calls.Add(1)
	if f.panicIMU {
		panic("boom")
	}
	return align.Crop(f.imu[ch], w)
}

func samples(from, to, step float64) []model.TimestampedRow {
	var out []model.TimestampedRow
	for ts := from; ts <= to; ts += step {
		out = append(out, model.TimestampedRow{Timestamp: ts})
	}
	return out
}

func newFake() *fakeResolver {
	return &fakeResolver{
		videos: map[string][]model.SourceAsset{
			"front": {{ID: "f0", Span: model.TimeSpan{Start: 0, End: 60}}, {ID: "f1", Span: model.TimeSpan{Start: 60, End: 120}}},
			"rear":  {{ID: "r0", Span: model.TimeSpan{Start: 0, End: 60}}},
		},
		gps: samples(0, 120, 1),
		imu: map[string][]model.TimestampedRow{"gyro": samples(0, 120, 0.5), "accel": samples(0, 30, 0.5)},
	}
}

func TestAssembleOneSetPerSegment(t *testing.T) {
	f := newFake()
	a := export.NewAssembler(f, []string{"front", "rear"}, []string{"gyro", "accel"}, export.WithWorkers(2))

	sets := a.Assemble(context.Background(), export.SegmentsFromWindows([]model.TimeSpan{
		{Start: 10, End: 20},
		{Start: 70, End: 80},
	}))
	require.Len(t, sets, 2)

	first := sets[0]
	assert.Equal(t, 0, first.SegmentIndex)
	assert.Equal(t, model.CropOk, first.Video["front"].Status)
	assert.Equal(t, "f0", first.Video["front"].Matched.ID)
	assert.Equal(t, 10.0, first.Video["front"].RelativeOffset)
	assert.Equal(t, model.CropOk, first.Video["rear"].Status)
	require.NotNil(t, first.GPS)
	assert.Equal(t, 11, first.GPS.RowCount)
	assert.Equal(t, 21, first.IMU["gyro"].RowCount)
	assert.Equal(t, 21, first.IMU["accel"].RowCount)

	second := sets[1]
	assert.Equal(t, 1, second.SegmentIndex)
	assert.Equal(t, "f1", second.Video["front"].Matched.ID)
	assert.Equal(t, model.CropNoData, second.Video["rear"].Status)
	assert.Equal(t, model.CropNoData, second.IMU["accel"].Status)
	assert.Equal(t, 0, second.Failures())

	for _, s := range sets {
		for _, r := range s.IMU["gyro"].Rows {
			assert.True(t, s.Window.Contains(r.Timestamp))
		}
	}
}

func TestAssemblePartialSuccess(t *testing.T) {
	f := newFake()
	f.failVideo = map[string]bool{"rear": true}
	f.gpsErr = errors.New("parquet unreadable")
	a := export.NewAssembler(f, []string{"front", "rear"}, []string{"gyro"})

	sets := a.Assemble(context.Background(), export.SegmentsFromWindows([]model.TimeSpan{{Start: 10, End: 20}}))
	require.Len(t, sets, 1)
	s := sets[0]
	assert.Equal(t, model.CropOk, s.Video["front"].Status)
	assert.Equal(t, model.CropFailed, s.Video["rear"].Status)
	assert.Error(t, s.Video["rear"].Err)
	assert.Equal(t, model.CropFailed, s.GPS.Status)
	assert.Equal(t, "parquet unreadable", s.GPS.Message)
	assert.Equal(t, model.CropOk, s.IMU["gyro"].Status)
	assert.Equal(t, 2, s.Failures())
}

func TestAssembleRecoversResolverPanic(t *testing.T) {
	f := newFake()
	f.panicIMU = true
	a := export.NewAssembler(f, []string{"front"}, []string{"gyro"})

	sets := a.Assemble(context.Background(), export.SegmentsFromWindows([]model.TimeSpan{{Start: 1, End: 2}}))
	assert.Equal(t, model.CropFailed, sets[0].IMU["gyro"].Status)
	assert.Equal(t, model.CropOk, sets[0].Video["front"].Status)
}

func TestAssemblePreservesOrderUnderConcurrency(t *testing.T) {
	f := newFake()
	// later segments finish first
	f.delay = func(w model.TimeSpan) time.Duration { return time.Duration(100-w.Start) * 100 * time.Microsecond }
	a := export.NewAssembler(f, []string{"front"}, nil, export.WithWorkers(8), export.WithoutGPS())

	windows := make([]model.TimeSpan, 0, 40)
	for i := 0; i < 40; i++ {
		windows = append(windows, model.TimeSpan{Start: float64(i), End: float64(i) + 1})
	}
	sets := a.Assemble(context.Background(), export.SegmentsFromWindows(windows))
	require.Len(t, sets, 40)
	for i, s := range sets {
		assert.Equal(t, i, s.SegmentIndex)
		assert.Equal(t, windows[i], s.Window)
		assert.Nil(t, s.GPS)
	}
	assert.Equal(t, int64(40), f.calls.Load())
}

func TestAssembleInvalidWindow(t *testing.T) {
	f := newFake()
	a := export.NewAssembler(f, []string{"front"}, []string{"gyro"})

	sets := a.Assemble(context.Background(), []export.Segment{{Index: 3, Window: model.TimeSpan{Start: 20, End: 10}}})
	require.Len(t, sets, 1)
	assert.Equal(t, 3, sets[0].SegmentIndex)
	assert.Equal(t, model.CropFailed, sets[0].Video["front"].Status)
	assert.ErrorIs(t, sets[0].GPS.Err, model.ErrInvalidSpan)
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestAssembleCancelledContext(t *testing.T) {
	f := newFake()
	a := export.NewAssembler(f, []string{"front"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sets := a.Assemble(ctx, export.SegmentsFromWindows([]model.TimeSpan{{Start: 1, End: 2}, {Start: 3, End: 4}}))
	require.Len(t, sets, 2)
	for _, s := range sets {
		assert.ErrorIs(t, s.Video["front"].Err, context.Canceled)
	}
}

func TestAssembleEmpty(t *testing.T) {
	a := export.NewAssembler(newFake(), []string{"front"}, nil)
	assert.Empty(t, a.Assemble(context.Background(), nil))
}

// scopingResolver hands each segment a view that tags its outputs.
type scopingResolver struct {
	*fakeResolver
	mu     sync.Mutex
	scopes []int
}

func (s *scopingResolver) ForSegment(index int) export.Resolver {
	s.mu.Lock()
	s.scopes = append(s.scopes, index)
	s.mu.Unlock()
	return segmentView{fakeResolver: s.fakeResolver, index: index}
}

type segmentView struct {
	*fakeResolver
	index int
}

func (v segmentView) ResolveGPS(ctx context.Context, w model.TimeSpan) model.CropResult {
	res := v.fakeResolver.ResolveGPS(ctx, w)
	res.Output = fmt.Sprintf("segment_%d/gps.parquet", v.index)
	return res
}

func TestAssembleScopesResolverPerSegment(t *testing.T) {
	r := &scopingResolver{fakeResolver: newFake()}
	a := export.NewAssembler(r, []string{"front"}, nil, export.WithWorkers(2))

	window := model.TimeSpan{Start: 10, End: 20}
	sets := a.Assemble(context.Background(), export.SegmentsFromWindows([]model.TimeSpan{window, window}))
	require.Len(t, sets, 2)
	assert.Equal(t, "segment_0/gps.parquet", sets[0].GPS.Output)
	assert.Equal(t, "segment_1/gps.parquet", sets[1].GPS.Output)
	assert.Equal(t, 11, sets[1].GPS.RowCount)

	sort.Ints(r.scopes)
	assert.Equal(t, []int{0, 1}, r.scopes)
}
