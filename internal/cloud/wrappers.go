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
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"golang.org/x/time/rate"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// SignBytesFunc signs a V4 string-to-sign on behalf of a service account.
type SignBytesFunc func(ctx context.Context, payload []byte) ([]byte, error)

// IAMSignBytes signs through the IAM credentials API, which is how a workload
// without a private key (Cloud Run, GKE) produces signed URLs.
func IAMSignBytes(client *credentials.IamCredentialsClient, serviceAccountEmail string) SignBytesFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		resp, err := client.SignBlob(ctx, &credentialspb.SignBlobRequest{
			Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", serviceAccountEmail),
			Payload: payload,
		})
		if err != nil {
			return nil, fmt.Errorf("iam SignBlob for %s: %w", serviceAccountEmail, err)
		}
		return resp.SignedBlob, nil
	}
}

// QuotaAwareSigner produces V4 signed GET URLs, waiting on a token bucket
// before each signature so IAM quota is never exceeded.
type QuotaAwareSigner struct {
	client      *storage.Client
	signerEmail string
	signBytes   SignBytesFunc
	limiter     *rate.Limiter
}

// NewQuotaAwareSigner builds a signer. When signerEmail and signBytes are set
// the signature is delegated; otherwise the storage client's own credentials
// sign the URL.
func NewQuotaAwareSigner(client *storage.Client, signerEmail string, signBytes SignBytesFunc, requestsPerSecond float64, burst int) *QuotaAwareSigner {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &QuotaAwareSigner{
		client:      client,
		signerEmail: signerEmail,
		signBytes:   signBytes,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// SignedURL returns a GET URL for ref that expires after ttl.
func (s *QuotaAwareSigner) SignedURL(ctx context.Context, ref model.ObjectRef, ttl time.Duration) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for signing quota: %w", err)
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if s.signerEmail != "" && s.signBytes != nil {
		opts.GoogleAccessID = s.signerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) { return s.signBytes(ctx, b) }
	}
	u, err := s.client.Bucket(ref.Bucket).SignedURL(ref.Name, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", ref.Bucket, ref.Name, err)
	}
	return u, nil
}
