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
	"time"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
)

// SignedURL replaces the object reference(s) on CtxIn with time-limited
// download URLs.
type SignedURL struct {
	cor.BaseCommand
	signer services.URLSigner
	ttl    time.Duration
}

func NewSignedURL(name string, signer services.URLSigner, ttl time.Duration) *SignedURL {
	return &SignedURL{BaseCommand: *cor.NewBaseCommand(name), signer: signer, ttl: ttl}
}

func (c *SignedURL) Execute(context cor.Context) {
	var refs []model.ObjectRef
	single := false
	switch in := context.Get(c.GetInputParam()).(type) {
	case model.ObjectRef:
		refs, single = []model.ObjectRef{in}, true
	case []model.ObjectRef:
		refs = in
	default:
		c.Fail(context, fmt.Errorf("unsupported signing input %T", in))
		return
	}

	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		url, err := c.signer.SignedURL(context.GetContext(), ref, c.ttl)
		if err != nil {
			c.Fail(context, fmt.Errorf("failed to sign %s: %w", ref, err))
			return
		}
		urls = append(urls, url)
	}

	c.Succeed(context)
	context.Add(DownloadURLParam, urls)
	if single {
		context.Add(c.GetOutputParam(), urls[0])
		return
	}
	context.Add(c.GetOutputParam(), urls)
}
