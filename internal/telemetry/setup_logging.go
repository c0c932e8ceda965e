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

// Package telemetry sets up logging, tracing and metrics. This file configures
// slog to emit Cloud Logging structured JSON with the active trace attached.
package telemetry

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// spanContextLogHandler adds the Cloud Logging trace fields to every record
// logged with a context that carries a valid span.
type spanContextLogHandler struct {
	slog.Handler
}

func handlerWithSpanContext(handler slog.Handler) *spanContextLogHandler {
	return &spanContextLogHandler{Handler: handler}
}

// Handle adds the trace and span IDs before delegating.
// See: https://cloud.google.com/logging/docs/structured-logging#special-payload-fields
func (t *spanContextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		record.AddAttrs(
			slog.Any("logging.googleapis.com/trace", s.TraceID()),
			slog.Any("logging.googleapis.com/spanId", s.SpanID()),
			slog.Bool("logging.googleapis.com/trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return t.Handler.Handle(ctx, record)
}

// WithAttrs keeps the span handler in front of derived handlers.
func (t *spanContextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithAttrs(attrs))
}

// WithGroup keeps the span handler in front of derived handlers.
func (t *spanContextLogHandler) WithGroup(name string) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithGroup(name))
}

// replacer renames slog's keys to the Cloud Logging ones and maps WARN to
// WARNING.
func replacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
		if level, ok := a.Value.Any().(slog.Level); ok && level == slog.LevelWarn {
			a.Value = slog.StringValue("WARNING")
		}
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// ParseLevel maps "debug", "info", "warn" and "error" onto slog levels,
// defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the structured logger on w without installing it.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{ReplaceAttr: replacer, Level: level})
	return slog.New(handlerWithSpanContext(jsonHandler))
}

// SetupLogging installs the structured logger as the slog default and points
// the standard logger at the same writers. Output goes to stdout and, when
// logFile is non-empty, to that file as well. The level comes from LOG_LEVEL.
func SetupLogging(logFile string) {
	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		if file, err := os.Create(logFile); err == nil {
			writers = append(writers, file)
		}
	}
	multiWriter := io.MultiWriter(writers...)

	log.SetOutput(multiWriter)
	log.SetPrefix("[INFO] ")
	log.SetFlags(log.Ldate | log.Ltime)

	slog.SetDefault(NewLogger(multiWriter, ParseLevel(os.Getenv("LOG_LEVEL"))))
}
