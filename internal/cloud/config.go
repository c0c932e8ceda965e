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

// Package cloud defines the application configuration, loaded from layered
// TOML files, and the Google Cloud plumbing shared by the services: client
// construction, signed URLs, object listing and Pub/Sub listeners.
//
// Structs:
//   - Application: General runtime settings (project, worker pool, HTTP port).
//   - Storage: Buckets holding footage, trip data and finished exports.
//   - Catalog: Where scenario records live (BigQuery or Postgres).
//   - Transcoder: ffmpeg location, clip length and rate limits.
//   - Export: Default streams and object naming for multi-modal exports.
//   - ReviewStore: Location of the local review database.
//   - TopicSubscription: Configuration for a single Pub/Sub subscription.
//   - Config: The top-level struct aggregating everything above.
package cloud

import "time"

// Catalog backends.
const (
	CatalogBigQuery = "bigquery"
	CatalogPostgres = "postgres"
)

// Application holds general application settings.
type Application struct {
	Name                      string `toml:"name"`
	GoogleProjectId           string `toml:"google_project_id"`
	GoogleLocation            string `toml:"location"`
	ThreadPoolSize            int    `toml:"thread_pool_size"`             // Workers used by the segment assembler.
	SignerServiceAccountEmail string `toml:"signer_service_account_email"` // Service account used to sign GCS URLs through IAM.
	HTTPPort                  int    `toml:"http_port"`
	EnableTelemetryExport     bool   `toml:"enable_telemetry_export"` // Off locally; on in Cloud Run.
}

// Storage holds the buckets the service reads from and writes to.
type Storage struct {
	FootageBucket       string            `toml:"footage_bucket"`         // Camera files, laid out as <org>/<key>/<time>-<stream>.mp4.
	TripDataBucket      string            `toml:"trip_data_bucket"`       // Parquet trip files, laid out as <org>/<key>/...
	ExportBucket        string            `toml:"export_bucket"`          // Bundles, clips and frames produced by the service.
	SignedURLTTLMinutes int               `toml:"signed_url_ttl_minutes"` // Lifetime of every signed URL handed out.
	WorkDir             string            `toml:"work_dir"`               // Local scratch space; empty uses the OS temp dir.
	BucketAliases       map[string]string `toml:"bucket_aliases"`         // Maps bucket names found in catalog links to real GCS buckets.
}

// Catalog selects and configures the scenario catalog.
type Catalog struct {
	Backend     string `toml:"backend"` // "bigquery" or "postgres".
	DatasetName string `toml:"dataset"`
	Table       string `toml:"table"`
	DSN         string `toml:"dsn"`
	Password    string `toml:"-"` // Only ever read from the environment.
}

// Transcoder configures the ffmpeg collaborator.
type Transcoder struct {
	FFmpegPath        string  `toml:"ffmpeg_path"`
	ClipLengthSeconds int     `toml:"clip_length_seconds"` // Span assumed for each camera file.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	DefaultFPS        float64 `toml:"default_fps"` // Frame extraction rate when the request has none.
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Export configures what a multi-modal export contains by default.
type Export struct {
	VideoStreams      []string          `toml:"video_streams"`
	IMUChannels       []string          `toml:"imu_channels"`
	GPSObjectSuffix   string            `toml:"gps_object_suffix"`   // Suffix of the GPS parquet inside a trip prefix.
	IMUObjectSuffixes map[string]string `toml:"imu_object_suffixes"` // Channel name to parquet suffix.
	TimestampColumn   string            `toml:"timestamp_column"`
	MaterializeVideo  bool              `toml:"materialize_video"` // When false, bundles carry clip plans instead of clips.
}

// ReviewStore configures the local review and export ledger database.
type ReviewStore struct {
	Path string `toml:"path"`
}

// TopicSubscription holds the configuration for one Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Config is the top-level application configuration. It is built once at
// startup and handed to every constructor that needs it.
type Config struct {
	Application        Application                  `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	Catalog            Catalog                      `toml:"catalog"`
	Transcoder         Transcoder                   `toml:"transcoder"`
	Export             Export                       `toml:"export"`
	ReviewStore        ReviewStore                  `toml:"review_store"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name (e.g., "ExportRequests").
}

// NewConfig returns a Config filled with defaults that the TOML layers override.
func NewConfig() *Config {
	return &Config{
		Application: Application{
			Name:           "drive-annotation",
			ThreadPoolSize: 4,
			HTTPPort:       8080,
		},
		Storage: Storage{
			SignedURLTTLMinutes: 60,
			BucketAliases:       make(map[string]string),
		},
		Catalog: Catalog{
			Backend: CatalogBigQuery,
			Table:   "dmp",
		},
		Transcoder: Transcoder{
			FFmpegPath:        "ffmpeg",
			ClipLengthSeconds: 60,
			RequestsPerSecond: 2,
			Burst:             4,
			DefaultFPS:        3,
			TimeoutSeconds:    300,
		},
		Export: Export{
			VideoStreams:    []string{"front", "left", "right", "rear"},
			IMUChannels:     []string{"gyro", "accel"},
			GPSObjectSuffix: "processed_console_trip.parquet",
			IMUObjectSuffixes: map[string]string{
				"gyro":  "processed_gyro.parquet",
				"accel": "processed_accel.parquet",
			},
			TimestampColumn:  "timestamp",
			MaterializeVideo: true,
		},
		ReviewStore:        ReviewStore{Path: "reviews.db"},
		TopicSubscriptions: make(map[string]TopicSubscription),
	}
}

// SignedURLTTL returns the configured signed URL lifetime.
func (c *Config) SignedURLTTL() time.Duration {
	if c.Storage.SignedURLTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Storage.SignedURLTTLMinutes) * time.Minute
}

// ClipLength returns the span assumed for each camera file.
func (c *Config) ClipLength() time.Duration {
	if c.Transcoder.ClipLengthSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Transcoder.ClipLengthSeconds) * time.Second
}

// ResolveBucket maps a bucket name from a catalog link onto a GCS bucket.
func (c *Config) ResolveBucket(name string) string {
	if alias, ok := c.Storage.BucketAliases[name]; ok && alias != "" {
		return alias
	}
	return name
}
