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

// Package main runs the drive annotation server: the HTTP API and the
// Pub/Sub listener that feeds asynchronous export requests into the same
// export workflow.
package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
)

// ExportRequestsListener is the topic_subscriptions key of the export queue.
const ExportRequestsListener = "ExportRequests"

// SetupListeners attaches the export workflow to the export request
// subscription and starts it. A deployment without the subscription only
// serves HTTP.
func SetupListeners(ctx context.Context, clients *cloud.ServiceClients, exports cor.Command) {
	listener, ok := clients.PubSubListeners[ExportRequestsListener]
	if !ok {
		slog.Info("no export request subscription configured", "listener", ExportRequestsListener)
		return
	}
	listener.SetCommand(exports)
	listener.Listen(ctx)
}
