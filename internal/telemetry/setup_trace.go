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

// Package telemetry sets up logging, tracing and metrics. This file wires the
// OpenTelemetry SDK, exporting to Cloud Trace and Cloud Monitoring when
// enabled in the configuration.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	telemetryexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
)

// SetupOpenTelemetry installs the global propagator, tracer provider and meter
// provider. Exporters are attached only when
// application.enable_telemetry_export is set; otherwise spans and metrics are
// recorded in-process and dropped, which keeps local runs and tests offline.
//
// Outputs:
//   - shutdown: Flushes and stops every provider; safe to call once.
//   - err: Resource or exporter construction failures.
func SetupOpenTelemetry(ctx context.Context, config *cloud.Config) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	detectors := []resource.Option{
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceNameKey.String(config.Application.Name)),
	}
	if config.Application.EnableTelemetryExport {
		detectors = append(detectors, resource.WithDetectors(gcp.NewDetector()))
	}
	res, err := resource.New(ctx, detectors...)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		slog.Warn("partial resource detection", "error", err)
	} else if err != nil {
		slog.Error("resource.New failed", "error", err)
		return nil, err
	}

	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOpts := []metric.Option{metric.WithResource(res)}

	if config.Application.EnableTelemetryExport {
		traceExporter, err := telemetryexporter.New(telemetryexporter.WithProjectID(config.Application.GoogleProjectId))
		if err != nil {
			slog.Error("unable to set up trace exporter", "error", err)
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))

		mExporter, err := mexporter.New(mexporter.WithProjectID(config.Application.GoogleProjectId))
		if err != nil {
			slog.Error("unable to set up metric exporter", "error", err)
			return nil, err
		}
		meterOpts = append(meterOpts, metric.WithReader(metric.NewPeriodicReader(mExporter)))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)

	mProvider := metric.NewMeterProvider(meterOpts...)
	shutdownFuncs = append(shutdownFuncs, mProvider.Shutdown)
	otel.SetMeterProvider(mProvider)

	slog.Info("telemetry initialised", "export", config.Application.EnableTelemetryExport)
	return shutdown, nil
}
