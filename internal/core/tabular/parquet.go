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

// Package tabular reads and writes the columnar trip files (GPS and IMU
// streams) as ordered, timestamped rows. Parquet decoding and encoding go
// through Apache Arrow's pqarrow bridge.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/align"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// DefaultTimestampColumn is the column read as the row timestamp unless the
// caller names another one.
const DefaultTimestampColumn = "timestamp"

const batchSize = 64 * 1024

// ErrNoTimestampColumn is returned when a file has no recognisable time column.
var ErrNoTimestampColumn = errors.New("no timestamp column")

// ReadRows decodes a parquet file into rows, keeping file order. The
// timestamp column becomes TimestampedRow.Timestamp in epoch seconds; every
// other column lands in Fields. Unparseable or null timestamps become NaN so
// that window filtering drops them.
//
// Inputs:
//   - ctx: Controls cancellation of the decode.
//   - r: The parquet bytes, seekable.
//   - timestampColumn: Preferred time column; empty uses DefaultTimestampColumn.
//
// Outputs:
//   - []model.TimestampedRow: The decoded rows.
//   - error: Decode failures or ErrNoTimestampColumn.
func ReadRows(ctx context.Context, r parquet.ReaderAtSeeker, timestampColumn string) ([]model.TimestampedRow, error) {
	mem := memory.DefaultAllocator
	tbl, err := pqarrow.ReadTable(ctx, r, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{BatchSize: batchSize}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet table: %w", err)
	}
	defer tbl.Release()

	tsIndex := timestampIndex(tbl.Schema(), timestampColumn)
	if tsIndex < 0 {
		return nil, ErrNoTimestampColumn
	}

	out := make([]model.TimestampedRow, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, batchSize)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		cols := int(rec.NumCols())
		for i := 0; i < int(rec.NumRows()); i++ {
			row := model.TimestampedRow{
				Timestamp: timestampValue(rec.Column(tsIndex), i),
				Fields:    make(map[string]any, cols-1),
			}
			for c := 0; c < cols; c++ {
				if c == tsIndex {
					continue
				}
				if v, ok := cellValue(rec.Column(c), i); ok {
					row.Fields[rec.ColumnName(c)] = v
				}
			}
			out = append(out, row)
		}
	}
	if err := tr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to iterate parquet records: %w", err)
	}
	return out, nil
}

func timestampIndex(schema *arrow.Schema, preferred string) int {
	if preferred == "" {
		preferred = DefaultTimestampColumn
	}
	fields := schema.Fields()
	for i, f := range fields {
		if strings.EqualFold(f.Name, preferred) {
			return i
		}
	}
	for _, key := range []string{"timestamp", "time"} {
		for i, f := range fields {
			if strings.Contains(strings.ToLower(f.Name), key) {
				return i
			}
		}
	}
	return -1
}

func timestampValue(arr arrow.Array, i int) float64 {
	if arr.IsNull(i) {
		return math.NaN()
	}
	switch a := arr.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return align.EpochSeconds(a.Value(i).ToTime(unit))
	case *array.String:
		return parseTimeString(a.Value(i))
	case *array.LargeString:
		return parseTimeString(a.Value(i))
	}
	v, ok := cellValue(arr, i)
	if !ok {
		return math.NaN()
	}
	switch n := v.(type) {
	case float64:
		return align.NormalizeEpoch(n)
	case int64:
		return align.NormalizeEpoch(float64(n))
	}
	return math.NaN()
}

func parseTimeString(s string) float64 {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return align.EpochSeconds(t)
		}
	}
	return math.NaN()
}

func cellValue(arr arrow.Array, i int) (any, bool) {
	if arr.IsNull(i) {
		return nil, false
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Uint32:
		return int64(a.Value(i)), true
	case *array.Uint16:
		return int64(a.Value(i)), true
	case *array.Uint8:
		return int64(a.Value(i)), true
	case *array.Boolean:
		return a.Value(i), true
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return align.EpochSeconds(a.Value(i).ToTime(unit)), true
	}
	return arr.ValueStr(i), true
}

type columnKind int

const (
	kindUnknown columnKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
)

func kindOf(v any) columnKind {
	switch v.(type) {
	case nil:
		return kindUnknown
	case bool:
		return kindBool
	case int, int32, int64:
		return kindInt
	case float32, float64:
		return kindFloat
	}
	return kindString
}

func widen(a, b columnKind) columnKind {
	switch {
	case a == kindUnknown:
		return b
	case b == kindUnknown || a == b:
		return a
	case (a == kindInt && b == kindFloat) || (a == kindFloat && b == kindInt):
		return kindFloat
	}
	return kindString
}

// Schema infers the arrow schema for rows: a float64 timestamp column first,
// then every field in name order. Mixed int and float fields widen to float,
// any other mix falls back to string.
func Schema(rows []model.TimestampedRow) *arrow.Schema {
	kinds := make(map[string]columnKind)
	for _, r := range rows {
		for name, v := range r.Fields {
			if strings.EqualFold(name, DefaultTimestampColumn) {
				continue
			}
			kinds[name] = widen(kinds[name], kindOf(v))
		}
	}
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)

	fields := []arrow.Field{{Name: DefaultTimestampColumn, Type: arrow.PrimitiveTypes.Float64}}
	for _, n := range names {
		var dt arrow.DataType
		switch kinds[n] {
		case kindBool:
			dt = arrow.FixedWidthTypes.Boolean
		case kindInt:
			dt = arrow.PrimitiveTypes.Int64
		case kindFloat:
			dt = arrow.PrimitiveTypes.Float64
		default:
			dt = arrow.BinaryTypes.String
		}
		fields = append(fields, arrow.Field{Name: n, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// WriteRows encodes rows as a single parquet file on w, in row order.
func WriteRows(w io.Writer, rows []model.TimestampedRow) error {
	schema := Schema(rows)
	mem := memory.NewGoAllocator()

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, r := range rows {
		b.Field(0).(*array.Float64Builder).Append(r.Timestamp)
		for j := 1; j < len(schema.Fields()); j++ {
			name := schema.Field(j).Name
			v, ok := r.Fields[name]
			appendValue(b.Field(j), v, ok)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	if err := pqarrow.WriteTable(tbl, w, batchSize, parquet.NewWriterProperties(parquet.WithAllocator(mem)), pqarrow.DefaultWriterProps()); err != nil {
		return fmt.Errorf("failed to write parquet table: %w", err)
	}
	return nil
}

func appendValue(b array.Builder, v any, present bool) {
	if !present || v == nil {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.Float64Builder:
		if f, ok := toFloat(v); ok {
			fb.Append(f)
			return
		}
	case *array.Int64Builder:
		if n, ok := toInt(v); ok {
			fb.Append(n)
			return
		}
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			fb.Append(x)
			return
		}
	case *array.StringBuilder:
		fb.Append(fmt.Sprint(v))
		return
	}
	b.AppendNull()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
