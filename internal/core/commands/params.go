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

// Package commands holds the chain-of-responsibility steps the export and
// frame workflows are assembled from. Commands talk to each other through the
// cor.Context, using the parameter names below for values that outlive the
// CtxIn/CtxOut hand-off between neighbours.
package commands

const (
	ExportRequestParam = "__export_request__"
	ManifestParam      = "__trip_manifest__"
	WorkDirParam       = "__work_dir__"
	SegmentsParam      = "__segment_sets__"
	BundleParam        = "__bundle_path__"
	UploadedParam      = "__uploaded_objects__"
	DownloadURLParam   = "__download_urls__"
	ExportRecordParam  = "__export_record__"
	FrameRequestParam  = "__frame_request__"
)
