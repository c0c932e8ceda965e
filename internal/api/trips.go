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

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// GPSLoadRequest selects one parquet file of a trip.
type GPSLoadRequest struct {
	OrgID     string `json:"org_id" binding:"required"`
	KeyID     string `json:"key_id" binding:"required"`
	FileIndex int    `json:"file_index"`
}

// GPSLoadResponse carries the valid fixes of one trip file.
type GPSLoadResponse struct {
	Points      []model.GPSPoint `json:"points"`
	TotalPoints int              `json:"total_points"`
	FileIndex   int              `json:"file_index"`
	FileCount   int              `json:"file_count"`
	FileName    string           `json:"file_name,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// TripRouter serves trip browsing over the trip data bucket and GPS loading.
func TripRouter(r *gin.RouterGroup, h *Handlers) {
	trips := r.Group("/trips")
	{
		trips.GET("/orgs", func(c *gin.Context) {
			orgs, err := h.Footage.ListOrgs(c.Request.Context(), services.TripData)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"orgs": orgs})
		})

		trips.GET("/orgs/:org/keys", func(c *gin.Context) {
			keys, err := h.Footage.ListKeys(c.Request.Context(), services.TripData, c.Param("org"))
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"org_id": c.Param("org"), "keys": keys})
		})

		trips.GET("/orgs/:org/keys/:key/files", func(c *gin.Context) {
			trip := model.TripRef{OrgID: c.Param("org"), KeyID: c.Param("key")}
			files, err := h.Footage.ListTripFiles(c.Request.Context(), trip)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
		})
	}

	r.POST("/gps/load", func(c *gin.Context) {
		var req GPSLoadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		trip := model.TripRef{OrgID: req.OrgID, KeyID: req.KeyID}

		ref, count, err := h.Footage.GPSFile(ctx, trip, req.FileIndex)
		if errors.Is(err, services.ErrNoTripData) {
			// An empty trip is not an error for the map view.
			c.JSON(http.StatusOK, GPSLoadResponse{
				Points:    []model.GPSPoint{},
				FileIndex: req.FileIndex,
				FileCount: count,
				Message:   "no trip data for " + trip.Prefix(),
			})
			return
		}
		if err != nil {
			fail(c, err)
			return
		}

		points, err := h.Footage.LoadGPS(ctx, ref)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, GPSLoadResponse{
			Points:      points,
			TotalPoints: len(points),
			FileIndex:   req.FileIndex,
			FileCount:   count,
			FileName:    ref.Name,
		})
	})
}
