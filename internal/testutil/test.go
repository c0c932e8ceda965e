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

// Package testutil provides in-memory collaborators and fixtures shared by the
// package tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/tabular"
)

// Test buckets.
const (
	FootageBucket  = "test-footage"
	TripDataBucket = "test-trip-data"
	ExportBucket   = "test-exports"
)

var (
	// MP4Header is the start of an ISO base media file; enough for sniffing.
	MP4Header = []byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2', 'a', 'v', 'c', '1', 'm', 'p', '4', '1'}
	// JPEGHeader is a JFIF marker.
	JPEGHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

// NewConfig returns the default configuration pointed at the test buckets and
// a per-test work directory.
func NewConfig(t *testing.T) *cloud.Config {
	t.Helper()
	config := cloud.NewConfig()
	config.Application.GoogleProjectId = "test-project"
	config.Storage.FootageBucket = FootageBucket
	config.Storage.TripDataBucket = TripDataBucket
	config.Storage.ExportBucket = ExportBucket
	config.Storage.WorkDir = t.TempDir()
	config.ReviewStore.Path = ":memory:"
	return config
}

// MemoryStore is an ObjectStore over a map.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[model.ObjectRef][]byte
	types   map[model.ObjectRef]string
	// ListErr, when set, fails every List call.
	ListErr error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[model.ObjectRef][]byte), types: make(map[model.ObjectRef]string)}
}

// Put stores an object.
func (m *MemoryStore) Put(bucket, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[model.ObjectRef{Bucket: bucket, Name: name}] = data
}

// Get returns an object's bytes.
func (m *MemoryStore) Get(ref model.ObjectRef) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[ref]
	return b, ok
}

// ContentType returns the type an object was uploaded with.
func (m *MemoryStore) ContentType(ref model.ObjectRef) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[ref]
}

// Names lists a bucket's object names, sorted.
func (m *MemoryStore) Names(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for ref := range m.objects {
		if ref.Bucket == bucket {
			out = append(out, ref.Name)
		}
	}
	sort.Strings(out)
	return out
}

// List emulates a GCS listing, including delimiter prefixes.
func (m *MemoryStore) List(_ context.Context, bucket, prefix, delimiter string) (*cloud.ObjectListing, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := &cloud.ObjectListing{}
	seen := make(map[string]bool)
	for _, name := range m.Names(bucket) {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+len(delimiter)]
				if !seen[p] {
					seen[p] = true
					out.Prefixes = append(out.Prefixes, p)
				}
				continue
			}
		}
		out.Names = append(out.Names, name)
	}
	return out, nil
}

// Open implements ObjectStore.
func (m *MemoryStore) Open(_ context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	b, ok := m.Get(ref)
	if !ok {
		return nil, fmt.Errorf("object %s: not found", ref)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Upload implements ObjectStore.
func (m *MemoryStore) Upload(_ context.Context, ref model.ObjectRef, contentType string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = b
	m.types[ref] = contentType
	return nil
}

// StaticSigner returns predictable URLs.
type StaticSigner struct {
	Err error
}

// SignedURL implements URLSigner.
func (s *StaticSigner) SignedURL(_ context.Context, ref model.ObjectRef, ttl time.Duration) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return SignedURLFor(ref, ttl), nil
}

// SignedURLFor is the URL StaticSigner returns for ref.
func SignedURLFor(ref model.ObjectRef, ttl time.Duration) string {
	return fmt.Sprintf("https://signed.test/%s/%s?expires=%d", ref.Bucket, ref.Name, int(ttl.Seconds()))
}

// FakeTranscoder writes media headers instead of running ffmpeg.
type FakeTranscoder struct {
	mu     sync.Mutex
	Clips  []model.ClipPlan
	Frames int // Frames written per extraction.
	Err    error
	// FailSource makes clips of this object fail.
	FailSource string
}

// Clip implements Transcoder.
func (f *FakeTranscoder) Clip(_ context.Context, plan model.ClipPlan, _ string, output string) error {
	f.mu.Lock()
	f.Clips = append(f.Clips, plan)
	f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.FailSource != "" && plan.Source.Name == f.FailSource {
		return fmt.Errorf("transcode of %s failed", plan.Source.Name)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(output, MP4Header, 0o644)
}

// ExtractFrames implements Transcoder.
func (f *FakeTranscoder) ExtractFrames(_ context.Context, _ string, _ float64, outputDir string) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	n := f.Frames
	if n == 0 {
		n = 3
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := filepath.Join(outputDir, fmt.Sprintf("frame_%05d.jpg", i))
		if err := os.WriteFile(p, JPEGHeader, 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ClipCount returns how many clips were requested.
func (f *FakeTranscoder) ClipCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Clips)
}

// ParquetBytes encodes rows as parquet.
func ParquetBytes(t *testing.T, rows []model.TimestampedRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tabular.WriteRows(&buf, rows))
	return buf.Bytes()
}

// GPSRows returns one fix per second over [start, start+n).
func GPSRows(start float64, n int) []model.TimestampedRow {
	out := make([]model.TimestampedRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.TimestampedRow{
			Timestamp: start + float64(i),
			Fields: map[string]any{
				"lat":   37.0 + float64(i)*0.001,
				"lon":   -122.0 - float64(i)*0.001,
				"speed": float64(10 + i),
			},
		})
	}
	return out
}

// IMURows returns one sample per half second over [start, start+n/2).
func IMURows(start float64, n int) []model.TimestampedRow {
	out := make([]model.TimestampedRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.TimestampedRow{
			Timestamp: start + float64(i)/2,
			Fields:    map[string]any{"x": float64(i), "y": -float64(i), "z": 9.8},
		})
	}
	return out
}

// SeedTrip stores a trip: one-minute front and rear files starting at the
// given times, a GPS parquet and gyro/accel parquets.
func SeedTrip(t *testing.T, store *MemoryStore, trip model.TripRef, videoStarts []time.Time, dataStart float64, seconds int) {
	t.Helper()
	for _, start := range videoStarts {
		for _, stream := range []string{"front", "rear"} {
			name := trip.Prefix() + start.UTC().Format("2006-01-02_15-04-05") + "-" + stream + ".mp4"
			store.Put(FootageBucket, name, MP4Header)
		}
	}
	store.Put(TripDataBucket, trip.Prefix()+"processed_console_trip.parquet", ParquetBytes(t, GPSRows(dataStart, seconds)))
	store.Put(TripDataBucket, trip.Prefix()+"processed_gyro.parquet", ParquetBytes(t, IMURows(dataStart, seconds*2)))
	store.Put(TripDataBucket, trip.Prefix()+"processed_accel.parquet", ParquetBytes(t, IMURows(dataStart, seconds*2)))
}
