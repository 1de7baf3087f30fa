// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package encode packages the audio segments produced by synthesis into a
// single audiobook file with ffmpeg.
package encode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// Defaults mirror the wav-to-mp3 step of the synthesis engine's exporter.
const (
	DefaultCommand    = "ffmpeg"
	DefaultFormat     = "mp3"
	DefaultBitrate    = "192k"
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// ErrNoSegments is returned when Encode is called without input files.
var ErrNoSegments = errors.New("no audio segments to encode")

// FFmpeg encodes segments with the ffmpeg binary.
type FFmpeg struct {
	cfg    types.EncodingConfig
	runner command.Runner
}

// NewFFmpeg creates an encoder. Zero fields in cfg take the package defaults.
func NewFFmpeg(cfg types.EncodingConfig, runner command.Runner) *FFmpeg {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	cfg.Format = strings.TrimPrefix(strings.ToLower(cfg.Format), ".")
	if cfg.Bitrate == "" {
		cfg.Bitrate = DefaultBitrate
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	return &FFmpeg{cfg: cfg, runner: runner}
}

// Name returns the ffmpeg binary.
func (f *FFmpeg) Name() string { return f.cfg.Command }

// Format returns the output file extension without the dot.
func (f *FFmpeg) Format() string { return f.cfg.Format }

// OutputPath returns <outputDir>/<baseName>.<format>.
func (f *FFmpeg) OutputPath(outputDir, baseName string) string {
	return filepath.Join(outputDir, baseName+"."+f.cfg.Format)
}

// Args builds the ffmpeg arguments for a single input. Use "-f concat -safe 0"
// input options for a concat list.
func (f *FFmpeg) Args(inputOpts []string, input, output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	args = append(args, inputOpts...)
	args = append(args,
		"-i", input,
		"-vn",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-b:a", f.cfg.Bitrate,
	)
	return append(args, output)
}

// Encode writes segments, in order, into output. One segment is transcoded
// directly; several are joined through ffmpeg's concat demuxer. The concat
// list is written next to output and removed afterwards.
func (f *FFmpeg) Encode(ctx context.Context, segments []string, output string) (command.Log, error) {
	if len(segments) == 0 {
		return command.Log{}, ErrNoSegments
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return command.Log{}, fmt.Errorf("creating output directory: %w", err)
	}

	if len(segments) == 1 {
		return command.Invoke(ctx, f.runner, f.cfg.Command, f.Args(nil, segments[0], output))
	}

	list, err := writeConcatList(filepath.Dir(output), segments)
	if err != nil {
		return command.Log{}, err
	}
	defer os.Remove(list)

	return command.Invoke(ctx, f.runner, f.cfg.Command,
		f.Args([]string{"-f", "concat", "-safe", "0"}, list, output))
}

// writeConcatList writes a concat demuxer script listing segments as
// absolute paths and returns its path.
func writeConcatList(dir string, segments []string) (string, error) {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, s := range segments {
		abs, err := filepath.Abs(s)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", s, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", quote(abs))
	}

	tmp, err := os.CreateTemp(dir, ".segments-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating concat list: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	return tmp.Name(), nil
}

// quote escapes single quotes for the concat script: ' becomes '\''.
func quote(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
