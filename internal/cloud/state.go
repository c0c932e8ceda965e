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

package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
)

// ServiceClients holds every Google Cloud client the service needs, built once
// at startup and shared by the services.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	BigQueryClient  *bigquery.Client                  // Nil unless the catalog backend is BigQuery.
	IAMClient       *credentials.IamCredentialsClient // Nil unless a signer service account is configured.
	Signer          *QuotaAwareSigner
	PubSubListeners map[string]*PubSubListener // Keyed by the logical name from the config.
}

// Close releases every client that was opened.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BigQueryClient != nil {
		_ = c.BigQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
}

// NewCloudServiceClients opens the clients required by config. Listeners are
// created without a command; workflows are attached later.
func NewCloudServiceClients(ctx context.Context, config *Config) (*ServiceClients, error) {
	var err error
	cloud := &ServiceClients{PubSubListeners: make(map[string]*PubSubListener)}
	ready := false
	defer func() {
		if !ready {
			cloud.Close()
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	if len(config.TopicSubscriptions) > 0 {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		for subKey, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, nil)
			if err != nil {
				return nil, err
			}
			cloud.PubSubListeners[subKey] = listener
		}
	}

	if config.Catalog.Backend == CatalogBigQuery {
		if cloud.BigQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("bigquery client: %w", err)
		}
	}

	var signBytes SignBytesFunc
	if email := config.Application.SignerServiceAccountEmail; email != "" {
		if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
			return nil, fmt.Errorf("iam credentials client: %w", err)
		}
		signBytes = IAMSignBytes(cloud.IAMClient, email)
	}
	cloud.Signer = NewQuotaAwareSigner(cloud.StorageClient, config.Application.SignerServiceAccountEmail, signBytes, 10, 5)

	slog.Info("cloud clients ready",
		"project", config.Application.GoogleProjectId,
		"catalog", config.Catalog.Backend,
		"listeners", len(cloud.PubSubListeners))
	ready = true
	return cloud, nil
}
