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

package services_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/cloud"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/model"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/services"
	"github.com/jaycherian/gcp-go-drive-annotation/internal/testutil"
)

// fakeFFmpeg writes content to the last argument, or frames into its
// directory when the output is a frame pattern.
func fakeFFmpeg(content []byte, frames int, calls *[][]string) services.CommandRunner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, append([]string{name}, args...))
		out := args[len(args)-1]
		if filepath.Base(out) != services.FramePattern {
			return nil, os.WriteFile(out, content, 0o644)
		}
		for i := frames; i >= 1; i-- {
			p := filepath.Join(filepath.Dir(out), fmt.Sprintf(services.FramePattern, i))
			if err := os.WriteFile(p, content, 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func testTranscoderConfig() cloud.Transcoder {
	return cloud.Transcoder{FFmpegPath: "/usr/bin/ffmpeg", RequestsPerSecond: 100, Burst: 10, TimeoutSeconds: 5}
}

func TestClipArgs(t *testing.T) {
	plan := model.ClipPlan{RelativeOffset: 5.5, Duration: 10}
	assert.Equal(t,
		[]string{"-y", "-ss", "5.5", "-i", "https://src", "-t", "10", "-c", "copy", "out.mp4"},
		services.ClipArgs(plan, "https://src", "out.mp4"))
	assert.Equal(t,
		[]string{"-y", "-i", "https://src", "-vf", "fps=0.5", filepath.Join("dir", "frame_%05d.jpg")},
		services.FrameArgs("https://src", 0.5, "dir"))
}

func TestTranscoderClip(t *testing.T) {
	var calls [][]string
	tc := services.NewFFmpegTranscoder(testTranscoderConfig(), fakeFFmpeg(testutil.MP4Header, 0, &calls))
	out := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	ctx := context.Background()

	err := tc.Clip(ctx, model.ClipPlan{RelativeOffset: 1, Duration: 2}, "https://src", out)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "/usr/bin/ffmpeg", calls[0][0])
	assert.FileExists(t, out)

	err = tc.Clip(ctx, model.ClipPlan{RelativeOffset: 1}, "https://src", out)
	assert.ErrorIs(t, err, model.ErrInvalidSpan)
	assert.Len(t, calls, 1, "empty clips never reach ffmpeg")
}

func TestTranscoderRejectsBadOutput(t *testing.T) {
	var calls [][]string
	tc := services.NewFFmpegTranscoder(testTranscoderConfig(), fakeFFmpeg([]byte("not a video at all"), 2, &calls))
	ctx := context.Background()

	err := tc.Clip(ctx, model.ClipPlan{Duration: 2}, "https://src", filepath.Join(t.TempDir(), "clip.mp4"))
	assert.ErrorIs(t, err, services.ErrUnexpectedOutput)

	_, err = tc.ExtractFrames(ctx, "https://src", 1, t.TempDir())
	assert.ErrorIs(t, err, services.ErrUnexpectedOutput)
}

func TestTranscoderExtractFrames(t *testing.T) {
	var calls [][]string
	tc := services.NewFFmpegTranscoder(testTranscoderConfig(), fakeFFmpeg(testutil.JPEGHeader, 3, &calls))
	dir := t.TempDir()
	ctx := context.Background()

	frames, err := tc.ExtractFrames(ctx, "https://src", 2, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "frame_00001.jpg"),
		filepath.Join(dir, "frame_00002.jpg"),
		filepath.Join(dir, "frame_00003.jpg"),
	}, frames)

	_, err = tc.ExtractFrames(ctx, "https://src", 0, dir)
	assert.Error(t, err)
}

func TestTranscoderRunnerFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	tc := services.NewFFmpegTranscoder(testTranscoderConfig(), func(context.Context, string, ...string) ([]byte, error) {
		return []byte("moov atom not found"), boom
	})
	err := tc.Clip(context.Background(), model.ClipPlan{Duration: 1}, "https://src", filepath.Join(t.TempDir(), "c.mp4"))
	assert.ErrorIs(t, err, boom)
}

func TestTranscoderHonoursContext(t *testing.T) {
	tc := services.NewFFmpegTranscoder(cloud.Transcoder{RequestsPerSecond: 0.001, Burst: 1}, func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tc.ExtractFrames(ctx, "https://src", 1, t.TempDir())
	assert.Error(t, err)
}
