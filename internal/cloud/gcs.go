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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// ErrInvalidObjectURL is returned for links that do not name a bucket and object.
var ErrInvalidObjectURL = errors.New("invalid object url")

var httpStoragePrefixes = []string{
	"https://storage.googleapis.com/",
	"https://storage.cloud.google.com/",
	"https://storage.mtls.cloud.google.com/",
}

// ParseObjectURL splits a gs://, s3:// or public storage https:// link into a
// bucket and object name.
func ParseObjectURL(raw string) (model.ObjectRef, error) {
	raw = strings.TrimSpace(raw)
	var rest string
	switch {
	case strings.HasPrefix(raw, "gs://"), strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return model.ObjectRef{}, fmt.Errorf("%w: %s: %v", ErrInvalidObjectURL, raw, err)
		}
		rest = u.Host + u.Path
	default:
		for _, p := range httpStoragePrefixes {
			if strings.HasPrefix(raw, p) {
				rest = strings.TrimPrefix(raw, p)
				if i := strings.IndexAny(rest, "?#"); i >= 0 {
					rest = rest[:i]
				}
				break
			}
		}
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return model.ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidObjectURL, raw)
	}
	return model.ObjectRef{Bucket: parts[0], Name: parts[1]}, nil
}

// ObjectListing is the result of one listing call: object names under the
// prefix and, when a delimiter was used, the common sub-prefixes.
type ObjectListing struct {
	Names    []string
	Prefixes []string
}

// ListObjects lists a bucket under prefix, following pagination to the end.
func ListObjects(ctx context.Context, client *storage.Client, bucket, prefix, delimiter string) (*ObjectListing, error) {
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: delimiter})
	out := &ObjectListing{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if attrs.Prefix != "" {
			out.Prefixes = append(out.Prefixes, attrs.Prefix)
			continue
		}
		out.Names = append(out.Names, attrs.Name)
	}
	return out, nil
}
