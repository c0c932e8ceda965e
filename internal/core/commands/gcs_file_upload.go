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

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

const defaultContentType = "application/octet-stream"

// ObjectNamer picks the destination object name for a local file.
type ObjectNamer func(context cor.Context, localPath string) string

// UnderPrefix names objects <prefix>/<id>/<base name>, where id is read
// through idOf.
func UnderPrefix(prefix string, idOf func(cor.Context) string) ObjectNamer {
	return func(context cor.Context, localPath string) string {
		return path.Join(prefix, idOf(context), filepath.Base(localPath))
	}
}

// GCSFileUpload uploads the local file (string) or files ([]string) on CtxIn
// to a bucket and outputs the matching model.ObjectRef or []model.ObjectRef.
// Uploaded files are removed from the local disk.
type GCSFileUpload struct {
	cor.BaseCommand
	store  services.ObjectStore
	bucket string
	namer  ObjectNamer
}

func NewGCSFileUpload(name string, store services.ObjectStore, bucket string, namer ObjectNamer) *GCSFileUpload {
	if namer == nil {
		namer = func(_ cor.Context, p string) string { return filepath.Base(p) }
	}
	return &GCSFileUpload{BaseCommand: *cor.NewBaseCommand(name), store: store, bucket: bucket, namer: namer}
}

func (c *GCSFileUpload) Execute(context cor.Context) {
	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		ref, err := c.upload(context, in)
		if err != nil {
			c.Fail(context, err)
			return
		}
		c.Succeed(context)
		context.Add(UploadedParam, []model.ObjectRef{ref})
		context.Add(c.GetOutputParam(), ref)
	case []string:
		refs := make([]model.ObjectRef, 0, len(in))
		for _, p := range in {
			ref, err := c.upload(context, p)
			if err != nil {
				c.Fail(context, err)
				return
			}
			refs = append(refs, ref)
		}
		c.Succeed(context)
		context.Add(UploadedParam, refs)
		context.Add(c.GetOutputParam(), refs)
	default:
		c.Fail(context, fmt.Errorf("unsupported upload input %T", in))
	}
}

func (c *GCSFileUpload) upload(context cor.Context, localPath string) (model.ObjectRef, error) {
	ref := model.ObjectRef{Bucket: c.bucket, Name: c.namer(context, localPath)}

	f, err := os.Open(localPath)
	if err != nil {
		return ref, fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(localPath); err != nil {
			slog.WarnContext(context.GetContext(), "failed to remove uploaded file", "file", localPath, "error", err)
		}
	}()

	if err := c.store.Upload(context.GetContext(), ref, contentType(localPath), f); err != nil {
		return ref, err
	}
	slog.InfoContext(context.GetContext(), "uploaded file", "file", filepath.Base(localPath), "object", ref.String())
	return ref, nil
}

func contentType(localPath string) string {
	kind, err := filetype.MatchFile(localPath)
	if err != nil || kind == filetype.Unknown {
		return defaultContentType
	}
	return kind.MIME.Value
}
