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
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

const (
	// QryListScenarios selects successful scenarios with a console trip.
	// Placeholders: the fully qualified table and the event conditions.
	QryListScenarios = "SELECT id, created_at, data_links, dmp_status, start_time, end_time FROM `%s` " +
		"WHERE dmp_status = 'SUCCESS' " +
		"AND JSON_VALUE(data_links, '$.trip.console_trip') IS NOT NULL " +
		"AND JSON_VALUE(data_links, '$.trip.console_trip') != 'null'%s " +
		"AND created_at >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @days_back DAY) " +
		"ORDER BY id DESC LIMIT @limit"

	// QryGetScenario selects one scenario by id.
	QryGetScenario = "SELECT id, created_at, data_links, dmp_status, start_time, end_time FROM `%s` WHERE id = @id"

	qryEventCondition = " AND REGEXP_CONTAINS(JSON_QUERY(data_links, '$.coreml'), @event_%d)"
)

// bqScenario is one row of the warehouse copy of the catalog, where
// data_links is stored as a JSON string.
type bqScenario struct {
	ID        int64                `bigquery:"id"`
	CreatedAt time.Time            `bigquery:"created_at"`
	DataLinks bigquery.NullString  `bigquery:"data_links"`
	Status    string               `bigquery:"dmp_status"`
	StartTime bigquery.NullFloat64 `bigquery:"start_time"`
	EndTime   bigquery.NullFloat64 `bigquery:"end_time"`
}

// BigQueryCatalog reads scenarios from a BigQuery table.
type BigQueryCatalog struct {
	client      *bigquery.Client
	datasetName string
	table       string
}

// NewBigQueryCatalog builds a catalog over dataset.table.
func NewBigQueryCatalog(client *bigquery.Client, datasetName, table string) *BigQueryCatalog {
	return &BigQueryCatalog{client: client, datasetName: datasetName, table: table}
}

// GetFQN returns the table name in `project.dataset.table` form.
func (c *BigQueryCatalog) GetFQN() string {
	fqn := c.client.Dataset(c.datasetName).Table(c.table).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", 1)
}

// BuildScenarioQuery renders the list query and its parameters. The event
// names travel as parameters, never as SQL text.
func BuildScenarioQuery(fqn string, q ScenarioQuery) (string, []bigquery.QueryParameter) {
	var conditions strings.Builder
	params := []bigquery.QueryParameter{
		{Name: "days_back", Value: q.DaysBack},
		{Name: "limit", Value: q.Limit},
	}
	for i, e := range q.EventTypes {
		fmt.Fprintf(&conditions, qryEventCondition, i)
		params = append(params, bigquery.QueryParameter{
			Name:  fmt.Sprintf("event_%d", i),
			Value: fmt.Sprintf(`"event"\s*:\s*"%s"`, e),
		})
	}
	return fmt.Sprintf(QryListScenarios, fqn, conditions.String()), params
}

// ListScenarios implements Catalog.
func (c *BigQueryCatalog) ListScenarios(ctx context.Context, q ScenarioQuery) ([]model.Scenario, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	text, params := BuildScenarioQuery(c.GetFQN(), q)
	query := c.client.Query(text)
	query.Parameters = params
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	out := make([]model.Scenario, 0, q.Limit)
	for {
		var row bqScenario
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario row: %w", err)
		}
		s, err := row.toScenario()
		if err != nil {
			slog.WarnContext(ctx, "skipping scenario with unreadable data links", "id", row.ID, "error", err)
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// GetScenario implements Catalog.
func (c *BigQueryCatalog) GetScenario(ctx context.Context, id int64) (*model.Scenario, error) {
	query := c.client.Query(fmt.Sprintf(QryGetScenario, c.GetFQN()))
	query.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario %d: %w", id, err)
	}
	var row bqScenario
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("%w: %d", ErrScenarioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %d: %w", id, err)
	}
	return row.toScenario()
}

func (r *bqScenario) toScenario() (*model.Scenario, error) {
	out := &model.Scenario{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Status:    r.Status,
		StartTime: r.StartTime.Float64,
		EndTime:   r.EndTime.Float64,
	}
	if r.DataLinks.Valid && r.DataLinks.StringVal != "" {
		if err := json.Unmarshal([]byte(r.DataLinks.StringVal), &out.DataLinks); err != nil {
			return nil, err
		}
	}
	out.EventType = PrimaryEventType(out.DataLinks)
	return out, nil
}
