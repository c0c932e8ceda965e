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

package tabular_test

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

func TestWriteThenReadKeepsOrderAndTypes(t *testing.T) {
	in := []model.TimestampedRow{
		{Timestamp: 1714564802, Fields: map[string]any{"lat": 37.1, "lon": -122.2, "fix": int64(3), "src": "gnss"}},
		{Timestamp: 1714564801, Fields: map[string]any{"lat": 37.2, "lon": -122.3, "fix": int64(2)}},
		{Timestamp: 1714564803, Fields: map[string]any{"lat": 37.3, "lon": -122.4, "fix": 1.5, "src": "dr"}},
	}
	var buf bytes.Buffer
	require.NoError(t, tabular.WriteRows(&buf, in))

	out, err := tabular.ReadRows(context.Background(), bytes.NewReader(buf.Bytes()), "")
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, 1714564802.0, out[0].Timestamp)
	assert.Equal(t, 1714564801.0, out[1].Timestamp)
	assert.Equal(t, 37.1, out[0].Fields["lat"])
	assert.Equal(t, 2.0, out[1].Fields["fix"], "mixed int and float widens to float")
	assert.Equal(t, "gnss", out[0].Fields["src"])
	_, has := out[1].Fields["src"]
	assert.False(t, has, "nulls are left out of Fields")
}

func TestSchemaInference(t *testing.T) {
	s := tabular.Schema([]model.TimestampedRow{
		{Fields: map[string]any{"b": true, "n": int64(1), "x": "a", "timestamp": 5.0}},
		{Fields: map[string]any{"x": 2.0}},
	})
	require.Len(t, s.Fields(), 4)
	assert.Equal(t, "timestamp", s.Field(0).Name)
	assert.Equal(t, arrow.FixedWidthTypes.Boolean, s.Field(1).Type)
	assert.Equal(t, arrow.PrimitiveTypes.Int64, s.Field(2).Type)
	assert.Equal(t, arrow.BinaryTypes.String, s.Field(3).Type)
}

func writeTable(t *testing.T, schema *arrow.Schema, fill func(b *array.RecordBuilder)) []byte {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	fill(b)
	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	require.NoError(t, pqarrow.WriteTable(tbl, &buf, 1024, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()))
	return buf.Bytes()
}

func TestReadRowsNormalisesMillisecondEpochs(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ts_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "x", Type: arrow.PrimitiveTypes.Float32},
	}, nil)
	data := writeTable(t, schema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{1714564800500, 1714564801000}, nil)
		b.Field(1).(*array.Float32Builder).AppendValues([]float32{0.5, 1.5}, nil)
	})

	rows, err := tabular.ReadRows(context.Background(), bytes.NewReader(data), "ts_ms")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 1714564800.5, rows[0].Timestamp, 1e-6)
	assert.Equal(t, 1.5, rows[1].Fields["x"])
}

func TestReadRowsArrowTimestamps(t *testing.T) {
	tsType := &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: tsType, Nullable: true},
		{Name: "gyro_x", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	when := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)
	data := writeTable(t, schema, func(b *array.RecordBuilder) {
		tb := b.Field(0).(*array.TimestampBuilder)
		tb.Append(arrow.Timestamp(when.UnixMicro()))
		tb.AppendNull()
		b.Field(1).(*array.Float64Builder).AppendValues([]float64{0.1, 0.2}, nil)
	})

	rows, err := tabular.ReadRows(context.Background(), bytes.NewReader(data), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 1714564800.25, rows[0].Timestamp, 1e-6)
	assert.True(t, math.IsNaN(rows[1].Timestamp))

	kept := align.FilterWindow(rows, model.TimeSpan{Start: 1714564800, End: 1714564801})
	assert.Len(t, kept, 1, "rows with unreadable timestamps are dropped by the window filter")
}

func TestReadRowsWithoutTimestampColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64}}, nil)
	data := writeTable(t, schema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Float64Builder).Append(1)
	})
	_, err := tabular.ReadRows(context.Background(), bytes.NewReader(data), "")
	assert.ErrorIs(t, err, tabular.ErrNoTimestampColumn)
}

func TestReadRowsRejectsGarbage(t *testing.T) {
	_, err := tabular.ReadRows(context.Background(), bytes.NewReader([]byte("not parquet")), "")
	assert.Error(t, err)
}

func TestExtractGPS(t *testing.T) {
	rows := []model.TimestampedRow{
		{Timestamp: 1, Fields: map[string]any{"latitude": 37.5, "longitude": -122.1, "speed_mps": 12.0, "heading": int64(90)}},
		{Timestamp: 2, Fields: map[string]any{"latitude": 91.0, "longitude": -122.1}},
		{Timestamp: 3, Fields: map[string]any{"latitude": 37.6, "longitude": math.NaN()}},
		{Timestamp: 4, Fields: map[string]any{"latitude": 37.7, "longitude": -181.0}},
		{Timestamp: 5, Fields: map[string]any{"latitude": 37.8, "longitude": -122.3}},
	}
	points := tabular.ExtractGPS(rows)
	require.Len(t, points, 2)
	assert.Equal(t, 1.0, points[0].Timestamp)
	require.NotNil(t, points[0].Speed)
	assert.Equal(t, 12.0, *points[0].Speed)
	assert.Equal(t, 90.0, *points[0].Heading)
	assert.Equal(t, 5.0, points[1].Timestamp)
	assert.Nil(t, points[1].Speed)
}

func TestDetectGPSColumnsPrefersExactNames(t *testing.T) {
	cols := tabular.DetectGPSColumns([]model.TimestampedRow{{Fields: map[string]any{"lat": 1.0, "lat_std": 0.1, "lon": 2.0, "lng_raw": 2.1}}})
	assert.Equal(t, "lat", cols.Lat)
	assert.Equal(t, "lon", cols.Lon)
	assert.Empty(t, cols.Speed)
}
