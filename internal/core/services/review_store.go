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

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ErrExportNotFound is returned for unknown export ids.
var ErrExportNotFound = errors.New("export not found")

// ReviewStore keeps analyst reviews and the export ledger in SQLite.
type ReviewStore struct {
	db *gorm.DB
}

// Stats summarises the ledger.
type Stats struct {
	Reviews int64                        `json:"reviews"`
	Exports map[model.ExportStatus]int64 `json:"exports"`
}

// OpenReviewStore opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-process database.
func OpenReviewStore(path string) (*ReviewStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open review store %s: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps :memory: shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&model.Review{}, &model.ExportRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate review store: %w", err)
	}
	return &ReviewStore{db: db}, nil
}

// Close releases the database.
func (s *ReviewStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReview validates and inserts a review.
func (s *ReviewStore) SaveReview(ctx context.Context, review *model.Review) error {
	if review.ScenarioID == 0 {
		return errors.New("review needs a scenario id")
	}
	for i, seg := range review.Segments {
		if err := (model.TimeSpan{Start: seg.Start, End: seg.End}).Validate(); err != nil {
			return fmt.Errorf("review segment %d: %w", i, err)
		}
	}
	review.ID = 0
	return s.db.WithContext(ctx).Create(review).Error
}

// ListReviews returns a scenario's reviews, oldest first.
func (s *ReviewStore) ListReviews(ctx context.Context, scenarioID int64) ([]model.Review, error) {
	out := make([]model.Review, 0)
	err := s.db.WithContext(ctx).Where("scenario_id = ?", scenarioID).Order("id ASC").Find(&out).Error
	return out, err
}

// SaveExport inserts or replaces an export ledger entry.
func (s *ReviewStore) SaveExport(ctx context.Context, record *model.ExportRecord) error {
	if record.ID == "" {
		return errors.New("export record needs an id")
	}
	return s.db.WithContext(ctx).Save(record).Error
}

// GetExport looks up one export.
func (s *ReviewStore) GetExport(ctx context.Context, id string) (*model.ExportRecord, error) {
	var out model.ExportRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExports returns the most recent exports.
func (s *ReviewStore) ListExports(ctx context.Context, limit int) ([]model.ExportRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]model.ExportRecord, 0)
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Stats counts reviews and exports by status.
func (s *ReviewStore) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{Exports: make(map[model.ExportStatus]int64)}
	if err := s.db.WithContext(ctx).Model(&model.Review{}).Count(&out.Reviews).Error; err != nil {
		return nil, err
	}
	var rows []struct {
		Status model.ExportStatus
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&model.ExportRecord{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out.Exports[r.Status] = r.Total
	}
	return out, nil
}
