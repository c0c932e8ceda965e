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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ExportRequestReader turns the raw workflow input into a validated
// *model.ExportRequest. The input is either a JSON document, as delivered by
// Pub/Sub, or an already decoded request from the HTTP layer.
type ExportRequestReader struct {
	cor.BaseCommand
}

func NewExportRequestReader(name string) *ExportRequestReader {
	return &ExportRequestReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ExportRequestReader) Execute(context cor.Context) {
	req, err := decodeExportRequest(context.Get(c.GetInputParam()))
	if err != nil {
		c.Fail(context, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		// keep the request around so the ledger can still record the rejection
		context.Add(ExportRequestParam, req)
		c.Fail(context, fmt.Errorf("invalid export request %s: %w", req.ID, err))
		return
	}

	c.Succeed(context)
	context.Add(ExportRequestParam, req)
	context.Add(c.GetOutputParam(), req)
}

func decodeExportRequest(in interface{}) (*model.ExportRequest, error) {
	var raw []byte
	switch v := in.(type) {
	case *model.ExportRequest:
		return v, nil
	case model.ExportRequest:
		return &v, nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return nil, fmt.Errorf("unsupported export request input %T", in)
	}
	var out model.ExportRequest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export request: %w", err)
	}
	return &out, nil
}
