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

// Package services holds the data access layer: object storage, the scenario
// catalog, trip data, transcoding and the local review ledger.
package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ObjectStore is the subset of object storage the services rely on.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix, delimiter string) (*cloud.ObjectListing, error)
	Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error)
	Upload(ctx context.Context, ref model.ObjectRef, contentType string, r io.Reader) error
}

// URLSigner hands out time-limited GET URLs. cloud.QuotaAwareSigner is the
// production implementation.
type URLSigner interface {
	SignedURL(ctx context.Context, ref model.ObjectRef, ttl time.Duration) (string, error)
}

// GCSObjectStore implements ObjectStore on Google Cloud Storage.
type GCSObjectStore struct {
	Client *storage.Client
}

// List lists bucket under prefix.
func (g *GCSObjectStore) List(ctx context.Context, bucket, prefix, delimiter string) (*cloud.ObjectListing, error) {
	return cloud.ListObjects(ctx, g.Client, bucket, prefix, delimiter)
}

// Open returns a reader over the object's content.
func (g *GCSObjectStore) Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	r, err := g.Client.Bucket(ref.Bucket).Object(ref.Name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return r, nil
}

// Upload streams r into the object. The object only exists once the writer is
// closed, so a failed copy is never finalised.
func (g *GCSObjectStore) Upload(ctx context.Context, ref model.ObjectRef, contentType string, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := g.Client.Bucket(ref.Bucket).Object(ref.Name).NewWriter(ctx)
	writer.ContentType = contentType
	if written, err := io.Copy(writer, r); err != nil {
		cancel()
		_ = writer.Close()
		return fmt.Errorf("failed to copy to %s after %d bytes: %w", ref, written, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalise %s: %w", ref, err)
	}
	return nil
}
