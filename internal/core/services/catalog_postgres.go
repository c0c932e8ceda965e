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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// JSON path filters on dmp.data_links.
const (
	consoleTripPath = `$.trip.console_trip ? (@ != null && @ != "null")`
	eventPathFormat = `$.coreml.* ? (@.event == "%s")`
)

// dmpRecord maps a row of public.dmp.
type dmpRecord struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	RawLinks  []byte    `gorm:"column:data_links;type:jsonb"`
	Status    string    `gorm:"column:dmp_status"`
	StartTime float64   `gorm:"column:start_time"`
	EndTime   float64   `gorm:"column:end_time"`
}

func (dmpRecord) TableName() string {
	return "public.dmp"
}

// PostgresCatalog reads scenarios from the processing database.
type PostgresCatalog struct {
	db *gorm.DB
}

// NewPostgresCatalog wraps an open gorm handle.
func NewPostgresCatalog(db *gorm.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// OpenPostgresCatalog connects with the pgx driver using the configured DSN
// and password.
func OpenPostgresCatalog(config cloud.Catalog) (*PostgresCatalog, error) {
	dsn, err := CatalogDSN(config)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "pgx",
		DSN:        dsn,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return NewPostgresCatalog(db), nil
}

// CatalogDSN merges the password kept in the environment into the DSN, which
// may be either a postgres:// URL or a key=value string.
func CatalogDSN(config cloud.Catalog) (string, error) {
	dsn := strings.TrimSpace(config.DSN)
	if dsn == "" {
		return "", errors.New("catalog dsn is empty")
	}
	if config.Password == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid catalog dsn: %w", err)
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, config.Password)
		return u.String(), nil
	}
	return dsn + " password='" + dsnQuoter.Replace(config.Password) + "'", nil
}

// ListScenarios implements Catalog.
func (c *PostgresCatalog) ListScenarios(ctx context.Context, q ScenarioQuery) ([]model.Scenario, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	tx := c.db.WithContext(ctx).
		Select("id, created_at, data_links, dmp_status, start_time, end_time").
		Where("dmp_status = ?", "SUCCESS").
		Where("jsonb_path_exists(data_links, ?::jsonpath)", consoleTripPath)
	for _, e := range q.EventTypes {
		tx = tx.Where("jsonb_path_exists(data_links, ?::jsonpath)", fmt.Sprintf(eventPathFormat, e))
	}
	var records []dmpRecord
	err := tx.Where("created_at >= NOW() - make_interval(days => ?)", q.DaysBack).
		Order("id DESC").
		Limit(q.Limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}

	out := make([]model.Scenario, 0, len(records))
	for i := range records {
		s, err := toScenario(&records[i])
		if err != nil {
			slog.WarnContext(ctx, "skipping scenario with unreadable data links", "id", records[i].ID, "error", err)
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// dsnQuoter escapes a value for a single-quoted keyword/value DSN field.
var dsnQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// GetScenario implements Catalog.
func (c *PostgresCatalog) GetScenario(ctx context.Context, id int64) (*model.Scenario, error) {
	var record dmpRecord
	err := c.db.WithContext(ctx).
		Select("id, created_at, data_links, dmp_status, start_time, end_time").
		Where("id = ?", id).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrScenarioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario %d: %w", id, err)
	}
	return toScenario(&record)
}

func toScenario(r *dmpRecord) (*model.Scenario, error) {
	var out model.Scenario
	if err := copier.Copy(&out, r); err != nil {
		return nil, err
	}
	if len(r.RawLinks) > 0 {
		if err := json.Unmarshal(r.RawLinks, &out.DataLinks); err != nil {
			return nil, err
		}
	}
	out.EventType = PrimaryEventType(out.DataLinks)
	return &out, nil
}
