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

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/api"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/workflow"
)

// StateManager holds what the server builds once at startup.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	reviews  *services.ReviewStore
	handlers *api.Handlers
	exports  *workflow.SegmentExportWorkflow
}

var state = &StateManager{}

// SetupOS points the config loader at ./configs unless the environment
// already says otherwise.
func SetupOS() error {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

// GetConfig loads the layered configuration once.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load config: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

func newCatalog(config *cloud.Config, clients *cloud.ServiceClients) (services.Catalog, error) {
	switch config.Catalog.Backend {
	case cloud.CatalogBigQuery:
		return services.NewBigQueryCatalog(clients.BigQueryClient, config.Catalog.DatasetName, config.Catalog.Table), nil
	case cloud.CatalogPostgres:
		return services.OpenPostgresCatalog(config.Catalog)
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown catalog backend %q", config.Catalog.Backend)
}

// InitState opens the cloud clients and local stores, builds the services
// and workflows, and starts the Pub/Sub listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = clients

	catalog, err := newCatalog(config, clients)
	if err != nil {
		return err
	}

	if state.reviews, err = services.OpenReviewStore(config.ReviewStore.Path); err != nil {
		return err
	}

	store := &services.GCSObjectStore{Client: clients.StorageClient}
	tabular := services.NewParquetSource(store, config.Export.TimestampColumn)
	transcoder := services.NewFFmpegTranscoder(config.Transcoder, services.ExecRunner)
	footage := services.NewFootageService(store, clients.Signer, tabular, config)
	manifests := services.NewManifestResolver(footage, catalog, config)

	deps := workflow.Dependencies{
		Manifests:  manifests,
		Tabular:    tabular,
		Transcoder: transcoder,
		Signer:     clients.Signer,
		Store:      store,
		Ledger:     state.reviews,
	}
	state.exports = workflow.NewSegmentExportWorkflow(config, deps)

	state.handlers = &api.Handlers{
		Config:  config,
		Footage: footage,
		Clips:   services.NewClipService(manifests, transcoder, clients.Signer, store, config),
		Catalog: catalog,
		Reviews: state.reviews,
		Exports: state.exports,
		Frames:  workflow.NewFrameExtractionWorkflow(config, deps),
	}

	SetupListeners(ctx, clients, state.exports)
	return nil
}

// Close releases the stores and clients opened by InitState.
func (s *StateManager) Close() {
	if s.reviews != nil {
		_ = s.reviews.Close()
	}
	if s.cloud != nil {
		s.cloud.Close()
	}
}
