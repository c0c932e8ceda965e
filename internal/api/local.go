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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

// LocalClipRequest clips footage for a trip file the analyst opened locally.
// FilePath keeps the bucket layout, <org>/<key>/..., which names the trip.
type LocalClipRequest struct {
	FilePath string  `json:"file_path" binding:"required"`
	Stream   string  `json:"stream"`
	Start    float64 `json:"start_ts"`
	End      float64 `json:"end_ts"`
	Preview  bool    `json:"preview_mode"`
}

// LocalClipResponse is a clip response tagged with the trip parsed from the
// file path.
type LocalClipResponse struct {
	*services.ClipResponse
	OrgID string `json:"org_id"`
	KeyID string `json:"key_id"`
}

func tripFromPath(filePath string) (org, key string, err error) {
	parts := strings.Split(strings.Trim(path.Clean(strings.ReplaceAll(filePath, "\\", "/")), "/"), "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[0] == ".." || parts[1] == ".." {
		return "", "", fmt.Errorf("file path %q is not laid out as <org>/<key>/<file>", filePath)
	}
	return parts[0], parts[1], nil
}

// LocalRouter serves the local-file views: GPS from an uploaded parquet and
// clips for a trip named by a local file path.
func LocalRouter(r *gin.RouterGroup, h *Handlers) {
	local := r.Group("/local")
	{
		local.POST("/load", func(c *gin.Context) {
			header, err := c.FormFile("file")
			if err != nil {
				badRequest(c, err)
				return
			}
			if !strings.HasSuffix(strings.ToLower(header.Filename), ".parquet") {
				badRequest(c, errors.New("only parquet files are supported"))
				return
			}
			file, err := header.Open()
			if err != nil {
				fail(c, err)
				return
			}
			defer file.Close()

			rows, err := tabular.ReadRows(c.Request.Context(), file, h.Config.Export.TimestampColumn)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to read " + header.Filename + ": " + err.Error()})
				return
			}
			points := tabular.ExtractGPS(rows)
			c.JSON(http.StatusOK, GPSLoadResponse{
				Points:      points,
				TotalPoints: len(points),
				FileCount:   1,
				FileName:    header.Filename,
				Message:     fmt.Sprintf("loaded %d points from %s", len(points), header.Filename),
			})
		})

		local.POST("/clip", func(c *gin.Context) {
			var req LocalClipRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			org, key, err := tripFromPath(req.FilePath)
			if err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Clips.Clip(c.Request.Context(), services.ClipRequest{
				OrgID:   org,
				KeyID:   key,
				Stream:  req.Stream,
				Start:   req.Start,
				End:     req.End,
				Preview: req.Preview,
			})
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, LocalClipResponse{ClipResponse: out, OrgID: org, KeyID: key})
		})
	}
}
