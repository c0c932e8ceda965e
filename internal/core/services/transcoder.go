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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/h2non/filetype"
	"golang.org/x/time/rate"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
)

// FramePattern is the ffmpeg output pattern for extracted frames.
const FramePattern = "frame_%05d.jpg"

// ErrUnexpectedOutput is returned when ffmpeg exits cleanly but the file it
// wrote is not the kind of media that was asked for.
var ErrUnexpectedOutput = errors.New("unexpected transcoder output")

// Transcoder performs the byte-level work on footage.
type Transcoder interface {
	// Clip copies plan's range of sourceURL into output without re-encoding.
	Clip(ctx context.Context, plan model.ClipPlan, sourceURL, output string) error
	// ExtractFrames writes JPEG frames at fps into outputDir and returns their
	// paths in order.
	ExtractFrames(ctx context.Context, sourceURL string, fps float64, outputDir string) ([]string, error)
}

// CommandRunner runs an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the program with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpegTranscoder drives the ffmpeg binary. Invocations are rate limited so
// a burst of exports cannot saturate the host or the storage egress.
type FFmpegTranscoder struct {
	path    string
	timeout time.Duration
	limiter *rate.Limiter
	run     CommandRunner
}

// NewFFmpegTranscoder builds a transcoder from config. A nil runner uses
// ExecRunner.
func NewFFmpegTranscoder(config cloud.Transcoder, run CommandRunner) *FFmpegTranscoder {
	if run == nil {
		run = ExecRunner
	}
	path := config.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &FFmpegTranscoder{
		path:    path,
		timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		run:     run,
	}
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ClipArgs builds the stream-copy clip command line.
func ClipArgs(plan model.ClipPlan, sourceURL, output string) []string {
	return []string{
		"-y",
		"-ss", seconds(plan.RelativeOffset),
		"-i", sourceURL,
		"-t", seconds(plan.Duration),
		"-c", "copy",
		output,
	}
}

// FrameArgs builds the frame sampling command line.
func FrameArgs(sourceURL string, fps float64, outputDir string) []string {
	return []string{
		"-y",
		"-i", sourceURL,
		"-vf", "fps=" + seconds(fps),
		filepath.Join(outputDir, FramePattern),
	}
}

func (t *FFmpegTranscoder) exec(ctx context.Context, args []string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for transcoder slot: %w", err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	out, err := t.run(ctx, t.path, args...)
	if err != nil {
		slog.ErrorContext(ctx, "ffmpeg failed", "args", args, "output", string(out), "error", err)
		return fmt.Errorf("error running ffmpeg: %w", err)
	}
	return nil
}

// Clip implements Transcoder.
func (t *FFmpegTranscoder) Clip(ctx context.Context, plan model.ClipPlan, sourceURL, output string) error {
	if plan.Duration <= 0 {
		return fmt.Errorf("%w: empty clip for %s", model.ErrInvalidSpan, plan.Source)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	if err := t.exec(ctx, ClipArgs(plan, sourceURL, output)); err != nil {
		return err
	}
	return checkKind(output, filetype.IsVideo, "video")
}

// ExtractFrames implements Transcoder.
func (t *FFmpegTranscoder) ExtractFrames(ctx context.Context, sourceURL string, fps float64, outputDir string) ([]string, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %v", fps)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	if err := t.exec(ctx, FrameArgs(sourceURL, fps, outputDir)); err != nil {
		return nil, err
	}
	frames, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	for _, f := range frames {
		if err := checkKind(f, filetype.IsImage, "image"); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// checkKind sniffs the head of path.
func checkKind(path string, is func([]byte) bool, kind string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedOutput, err)
	}
	defer f.Close()

	head := make([]byte, 261)
	n, _ := f.Read(head)
	if !is(head[:n]) {
		return fmt.Errorf("%w: %s is not a %s", ErrUnexpectedOutput, filepath.Base(path), kind)
	}
	return nil
}
