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

package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

func openStore(t *testing.T) *services.ReviewStore {
	t.Helper()
	store, err := services.OpenReviewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReviewRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := &model.Review{
		ID:         99,
		ScenarioID: 42,
		Reviewer:   "analyst",
		Segments: []model.ReviewSegment{
			{Start: 10, End: 20, Interesting: true, Notes: "cut-in"},
			{Start: 30, End: 31},
		},
	}
	require.NoError(t, store.SaveReview(ctx, first))
	assert.NotEqual(t, uint(99), first.ID)
	require.NoError(t, store.SaveReview(ctx, &model.Review{ScenarioID: 42, Notes: "second pass"}))
	require.NoError(t, store.SaveReview(ctx, &model.Review{ScenarioID: 7}))

	reviews, err := store.ListReviews(ctx, 42)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, first.Segments, reviews[0].Segments)
	assert.Equal(t, "second pass", reviews[1].Notes)

	none, err := store.ListReviews(ctx, 1000)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestReviewValidation(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.Error(t, store.SaveReview(ctx, &model.Review{}))
	err := store.SaveReview(ctx, &model.Review{ScenarioID: 1, Segments: []model.ReviewSegment{{Start: 5, End: 4}}})
	assert.ErrorIs(t, err, model.ErrInvalidSpan)
}

func TestExportRecords(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.Error(t, store.SaveExport(ctx, &model.ExportRecord{}))

	rec := &model.ExportRecord{ID: "exp-1", OrgID: "org-001", KeyID: "key-042", SegmentCount: 2, Status: model.ExportRunning}
	require.NoError(t, store.SaveExport(ctx, rec))
	rec.Status = model.ExportPartial
	rec.Failures = 1
	require.NoError(t, store.SaveExport(ctx, rec))
	require.NoError(t, store.SaveExport(ctx, &model.ExportRecord{ID: "exp-2", Status: model.ExportComplete}))
	require.NoError(t, store.SaveReview(ctx, &model.Review{ScenarioID: 3}))

	got, err := store.GetExport(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportPartial, got.Status)
	assert.Equal(t, 1, got.Failures)

	_, err = store.GetExport(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrExportNotFound)

	list, err := store.ListExports(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Reviews)
	assert.Equal(t, map[model.ExportStatus]int64{model.ExportPartial: 1, model.ExportComplete: 1}, stats.Exports)
}
