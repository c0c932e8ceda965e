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
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

// TabularSource loads timestamped rows from a columnar object.
type TabularSource interface {
	LoadRows(ctx context.Context, ref model.ObjectRef) ([]model.TimestampedRow, error)
}

// ParquetSource reads parquet objects from an ObjectStore. Parquet needs
// random access to the footer, so each object is buffered in memory.
type ParquetSource struct {
	store           ObjectStore
	timestampColumn string
}

// NewParquetSource builds a source; an empty column falls back to detection.
func NewParquetSource(store ObjectStore, timestampColumn string) *ParquetSource {
	return &ParquetSource{store: store, timestampColumn: timestampColumn}
}

// LoadRows downloads ref and decodes every row.
func (p *ParquetSource) LoadRows(ctx context.Context, ref model.ObjectRef) ([]model.TimestampedRow, error) {
	r, err := p.store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	rows, err := tabular.ReadRows(ctx, bytes.NewReader(data), p.timestampColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ref, err)
	}
	return rows, nil
}
