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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// VideoRouter serves footage browsing, signed URLs, clips and frames.
func VideoRouter(r *gin.RouterGroup, h *Handlers) {
	videos := r.Group("/videos")
	{
		videos.GET("/orgs", func(c *gin.Context) {
			orgs, err := h.Footage.ListOrgs(c.Request.Context(), services.Footage)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"orgs": orgs})
		})

		videos.GET("/orgs/:org/keys", func(c *gin.Context) {
			keys, err := h.Footage.ListKeys(c.Request.Context(), services.Footage, c.Param("org"))
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"org_id": c.Param("org"), "keys": keys})
		})

		// ?stream=front narrows the listing to one camera.
		videos.GET("/orgs/:org/keys/:key/videos", func(c *gin.Context) {
			trip := model.TripRef{OrgID: c.Param("org"), KeyID: c.Param("key")}
			grouped, err := h.Footage.ListVideos(c.Request.Context(), trip)
			if err != nil {
				fail(c, err)
				return
			}
			if stream := c.Query("stream"); stream != "" {
				files := grouped[stream]
				if files == nil {
					files = []model.VideoFile{}
				}
				c.JSON(http.StatusOK, gin.H{"stream": stream, "videos": files, "count": len(files)})
				return
			}
			total := 0
			for _, files := range grouped {
				total += len(files)
			}
			c.JSON(http.StatusOK, gin.H{"videos": grouped, "count": total})
		})

		videos.GET("/url/*name", func(c *gin.Context) {
			name := strings.TrimPrefix(c.Param("name"), "/")
			url, err := h.Footage.VideoURL(c.Request.Context(), name)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url, "name": name})
		})

		videos.POST("/clip", func(c *gin.Context) {
			var req services.ClipRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Clips.Clip(c.Request.Context(), req)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		videos.POST("/frames", func(c *gin.Context) {
			var req model.FrameRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if req.Source.Bucket == "" {
				req.Source.Bucket = h.Config.Storage.FootageBucket
			}
			if err := req.Validate(); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Frames.Run(c.Request.Context(), &req)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
