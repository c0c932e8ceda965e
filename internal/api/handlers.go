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

// Package api exposes the annotation backend over HTTP with gin. Handlers are
// thin: they bind the request, call one service or workflow and map sentinel
// errors onto status codes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// Exporter runs a multi-segment export.
type Exporter interface {
	Run(ctx context.Context, in interface{}) (*model.ExportResult, error)
}

// FrameExtractor runs a frame extraction.
type FrameExtractor interface {
	Run(ctx context.Context, in interface{}) (*model.FrameResult, error)
}

// ReviewLedger stores analyst reviews and export records.
type ReviewLedger interface {
	SaveReview(ctx context.Context, review *model.Review) error
	ListReviews(ctx context.Context, scenarioID int64) ([]model.Review, error)
	GetExport(ctx context.Context, id string) (*model.ExportRecord, error)
	ListExports(ctx context.Context, limit int) ([]model.ExportRecord, error)
	Stats(ctx context.Context) (*services.Stats, error)
}

// Handlers holds what the routes need. Catalog may be nil when no scenario
// catalog is configured; the scenario routes then answer 503.
type Handlers struct {
	Config  *cloud.Config
	Footage *services.FootageService
	Clips   *services.ClipService
	Catalog services.Catalog
	Reviews ReviewLedger
	Exports Exporter
	Frames  FrameExtractor
}

// Register mounts every route group on r.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.Config.Application.Name})
	})
	TripRouter(r, h)
	VideoRouter(r, h)
	ScenarioRouter(r, h)
	ExportRouter(r, h)
	LocalRouter(r, h)
	Dashboard(r, h.Reviews)
}

// NewRouter builds a bare engine with the routes under /api/v1.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	h.Register(r.Group("/api/v1"))
	return r
}

// NewServer builds the production engine: request logging and recovery,
// tracing, permissive CORS and gzip. GPS point lists compress well.
func NewServer(h *Handlers) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware(h.Config.Application.Name))
	r.Use(cors.Default())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	apiV1 := r.Group("/api/v1")
	{
		h.Register(apiV1)
	}
	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrScenarioNotFound),
		errors.Is(err, services.ErrExportNotFound),
		errors.Is(err, services.ErrNoTripData),
		errors.Is(err, services.ErrNoMatchingFootage):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidSpan),
		errors.Is(err, services.ErrUnknownEventType),
		errors.Is(err, cloud.ErrInvalidObjectURL):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
