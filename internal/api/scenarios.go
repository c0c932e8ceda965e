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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

func scenarioID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return id, true
}

// ScenarioRouter serves catalog queries and analyst reviews.
func ScenarioRouter(r *gin.RouterGroup, h *Handlers) {
	scenarios := r.Group("/scenarios")

	// Reviews live in the local store, so they work without a catalog.
	scenarios.POST("/review", func(c *gin.Context) {
		var review model.Review
		if err := c.ShouldBindJSON(&review); err != nil {
			badRequest(c, err)
			return
		}
		if review.ScenarioID <= 0 {
			badRequest(c, errors.New("scenario_id is required"))
			return
		}
		if err := h.Reviews.SaveReview(c.Request.Context(), &review); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, review)
	})

	scenarios.GET("/:id/reviews", func(c *gin.Context) {
		id, ok := scenarioID(c)
		if !ok {
			return
		}
		reviews, err := h.Reviews.ListReviews(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"scenario_id": id, "reviews": reviews})
	})

	catalog := scenarios.Group("", func(c *gin.Context) {
		if h.Catalog == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "scenario catalog is not configured"})
			return
		}
		c.Next()
	})
	{
		catalog.GET("/event-types", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"event_types": services.EventTypes})
		})

		catalog.POST("/fetch", func(c *gin.Context) {
			var q services.ScenarioQuery
			if err := c.ShouldBindJSON(&q); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Catalog.ListScenarios(c.Request.Context(), q)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"scenarios": out, "total": len(out)})
		})

		catalog.GET("/:id", func(c *gin.Context) {
			id, ok := scenarioID(c)
			if !ok {
				return
			}
			s, err := h.Catalog.GetScenario(c.Request.Context(), id)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, s)
		})

		catalog.GET("/:id/activities", func(c *gin.Context) {
			id, ok := scenarioID(c)
			if !ok {
				return
			}
			s, err := h.Catalog.GetScenario(c.Request.Context(), id)
			if err != nil {
				fail(c, err)
				return
			}
			span := s.Span()
			c.JSON(http.StatusOK, gin.H{
				"scenario_id": id,
				"activities":  s.Activities(),
				"duration":    span.Duration(),
			})
		})

		// ?stream=rear picks another camera; front is the default.
		catalog.GET("/:id/video-url", func(c *gin.Context) {
			id, ok := scenarioID(c)
			if !ok {
				return
			}
			ctx := c.Request.Context()
			s, err := h.Catalog.GetScenario(ctx, id)
			if err != nil {
				fail(c, err)
				return
			}
			stream := c.DefaultQuery("stream", services.DefaultStream)
			files := services.ResolveDataLinks(s, h.Config).Videos[stream]
			if len(files) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "scenario has no " + stream + " video"})
				return
			}
			url, err := h.Footage.SignedURL(ctx, files[0].Object)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"url":        url,
				"stream":     stream,
				"start_time": files[0].Span.Start,
				"end_time":   files[0].Span.End,
			})
		})
	}
}
