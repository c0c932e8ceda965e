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

package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ExportLedger stores the outcome of export runs.
type ExportLedger interface {
	SaveExport(ctx goctx.Context, record *model.ExportRecord) error
}

// ExportRecordPersist writes one model.ExportRecord describing the run. It is
// meant to be added as a finally step so failed runs are recorded too; it
// never adds errors of its own to the chain.
type ExportRecordPersist struct {
	cor.BaseCommand
	ledger ExportLedger
	now    func() time.Time
}

func NewExportRecordPersist(name string, ledger ExportLedger) *ExportRecordPersist {
	return &ExportRecordPersist{BaseCommand: *cor.NewBaseCommand(name), ledger: ledger, now: time.Now}
}

func (s *ExportRecordPersist) IsExecutable(context cor.Context) bool {
	return context != nil && context.Get(ExportRequestParam) != nil
}

func (s *ExportRecordPersist) Execute(context cor.Context) {
	req := context.Get(ExportRequestParam).(*model.ExportRequest)
	record := BuildExportRecord(context, req, s.now())

	if err := s.ledger.SaveExport(context.GetContext(), record); err != nil {
		s.ErrorCounter.Add(context.GetContext(), 1)
		slog.ErrorContext(context.GetContext(), "failed to persist export record", "id", record.ID, "error", err)
		return
	}
	s.Succeed(context)
	context.Add(ExportRecordParam, record)
	slog.InfoContext(context.GetContext(), "persisted export record", "id", record.ID, "status", record.Status, "failures", record.Failures)
}

// BuildExportRecord summarises the chain state for req. The status is failed
// when the chain has errors or every sub-result failed, partial when some
// sub-results failed and complete otherwise.
func BuildExportRecord(context cor.Context, req *model.ExportRequest, now time.Time) *model.ExportRecord {
	out := &model.ExportRecord{
		ID:           req.ID,
		ScenarioID:   req.ScenarioID,
		OrgID:        req.Trip.OrgID,
		KeyID:        req.Trip.KeyID,
		SegmentCount: len(req.Segments),
		Status:       model.ExportComplete,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	total := 0
	if sets, ok := cor.Get[[]model.SegmentExportSet](context, SegmentsParam); ok {
		for i := range sets {
			out.Failures += sets[i].Failures()
			total += len(sets[i].Video) + len(sets[i].IMU)
			if sets[i].GPS != nil {
				total++
			}
		}
	}
	if refs, ok := cor.Get[[]model.ObjectRef](context, UploadedParam); ok && len(refs) > 0 {
		out.Bucket, out.Object = refs[0].Bucket, refs[0].Name
	}

	switch {
	case context.HasErrors():
		out.Status = model.ExportFailed
		out.Error = joinErrors(context.GetErrors()).Error()
	case total > 0 && out.Failures == total:
		out.Status = model.ExportFailed
	case out.Failures > 0:
		out.Status = model.ExportPartial
	}
	return out
}

func joinErrors(errs map[string]error) error {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]error, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return errors.Join(parts...)
}
