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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

const (
	BundleIndexName    = "export.json"
	SegmentIndexName   = "manifest.json"
	bundleFilePrefix   = "segment_"
	bundleTimeEncoding = time.RFC3339
)

// BundleIndex is written at the root of every export archive.
type BundleIndex struct {
	ID         string        `json:"id"`
	ScenarioID int64         `json:"scenario_id,omitempty"`
	Trip       model.TripRef `json:"trip"`
	Segments   int           `json:"segments"`
	Failures   int           `json:"failures"`
	CreatedAt  string        `json:"created_at"`
}

// SegmentIndex describes one segment folder of the archive.
type SegmentIndex struct {
	model.SegmentExportSet
	Files []string `json:"files"`
}

// SegmentFolder is the archive folder of segment index i.
func SegmentFolder(i int) string {
	return fmt.Sprintf("%s%d", bundleFilePrefix, i)
}

// WriteBundle writes the zip layout of an export to w:
//
//	export.json
//	segment_<i>/manifest.json
//	segment_<i>/video_<stream>.mp4
//	segment_<i>/gps.parquet
//	segment_<i>/imu_<channel>.parquet
//
// Only results materialised on the local disk are copied in; everything else
// is still described by the segment manifest.
func WriteBundle(w io.Writer, req *model.ExportRequest, sets []model.SegmentExportSet, now time.Time) error {
	zw := zip.NewWriter(w)

	failures := 0
	for i := range sets {
		failures += sets[i].Failures()
		if err := writeSegment(zw, &sets[i]); err != nil {
			_ = zw.Close()
			return err
		}
	}

	index := BundleIndex{
		ID:         req.ID,
		ScenarioID: req.ScenarioID,
		Trip:       req.Trip,
		Segments:   len(sets),
		Failures:   failures,
		CreatedAt:  now.UTC().Format(bundleTimeEncoding),
	}
	if err := writeJSON(zw, BundleIndexName, index); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func writeSegment(zw *zip.Writer, set *model.SegmentExportSet) error {
	folder := SegmentFolder(set.SegmentIndex)
	index := SegmentIndex{SegmentExportSet: *set, Files: make([]string, 0)}

	add := func(name string, res *model.CropResult) error {
		if res == nil || !res.OK() || !isLocal(res.Output) {
			return nil
		}
		entry := path.Join(folder, name)
		if err := copyFile(zw, entry, res.Output); err != nil {
			return err
		}
		index.Files = append(index.Files, entry)
		return nil
	}

	for _, stream := range sortedKeys(set.Video) {
		res := set.Video[stream]
		if err := add("video_"+stream+filepath.Ext(res.Output), &res); err != nil {
			return err
		}
	}
	if err := add("gps.parquet", set.GPS); err != nil {
		return err
	}
	for _, ch := range sortedKeys(set.IMU) {
		res := set.IMU[ch]
		if err := add("imu_"+ch+".parquet", &res); err != nil {
			return err
		}
	}
	return writeJSON(zw, path.Join(folder, SegmentIndexName), index)
}

func isLocal(output string) bool {
	return output != "" && !strings.Contains(output, "://")
}

func sortedKeys(m map[string]model.CropResult) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyFile(zw *zip.Writer, entry, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	// clips and parquet are already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{Name: entry, Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to add %s to bundle: %w", entry, err)
	}
	return nil
}

func writeJSON(zw *zip.Writer, entry string, v interface{}) error {
	w, err := zw.Create(entry)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExportBundler zips the segment sets on CtxIn into a single archive and
// outputs its local path.
type ExportBundler struct {
	cor.BaseCommand
	workDir string
	now     func() time.Time
}

func NewExportBundler(name string, workDir string) *ExportBundler {
	return &ExportBundler{BaseCommand: *cor.NewBaseCommand(name), workDir: workDir, now: time.Now}
}

func (c *ExportBundler) IsExecutable(context cor.Context) bool {
	return context != nil &&
		context.Get(c.GetInputParam()) != nil &&
		context.Get(ExportRequestParam) != nil
}

func (c *ExportBundler) Execute(context cor.Context) {
	req := context.Get(ExportRequestParam).(*model.ExportRequest)
	sets, err := cor.MustGet[[]model.SegmentExportSet](context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}

	dir, ok := cor.Get[string](context, WorkDirParam)
	if !ok {
		dir = c.workDir
	}
	f, err := os.CreateTemp(dir, req.ID+"-*.zip")
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to create bundle: %w", err))
		return
	}
	context.AddTempFile(f.Name())

	if err := WriteBundle(f, req, sets, c.now()); err != nil {
		_ = f.Close()
		c.Fail(context, fmt.Errorf("failed to write bundle: %w", err))
		return
	}
	if err := f.Close(); err != nil {
		c.Fail(context, err)
		return
	}

	c.Succeed(context)
	context.Add(BundleParam, f.Name())
	context.Add(c.GetOutputParam(), f.Name())
}
