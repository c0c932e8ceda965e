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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ExportRouter runs synchronous exports and reads the export ledger.
func ExportRouter(r *gin.RouterGroup, h *Handlers) {
	exports := r.Group("/exports")
	{
		exports.POST("", func(c *gin.Context) {
			var req model.ExportRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := req.Validate(); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Exports.Run(c.Request.Context(), &req)
			if err != nil {
				status := statusFor(err)
				if status == http.StatusInternalServerError && out != nil && len(out.Segments) > 0 {
					// Segments were assembled; only bundling or delivery failed.
					status = http.StatusBadGateway
				}
				c.JSON(status, gin.H{"error": err.Error(), "result": out})
				return
			}
			c.JSON(http.StatusOK, out)
		})

		exports.GET("", func(c *gin.Context) {
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
			if err != nil {
				limit = 0
			}
			out, err := h.Reviews.ListExports(c.Request.Context(), limit)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"exports": out})
		})

		exports.GET("/:id", func(c *gin.Context) {
			out, err := h.Reviews.GetExport(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
