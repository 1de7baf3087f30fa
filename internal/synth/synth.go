// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synth drives the Markdown-to-audio synthesis engine and finds the
// audio it produced.
package synth

import (
	"context"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// DefaultCommand is the synthesis engine binary.
const DefaultCommand = "export_audiobook"

// Request holds the inputs of one synthesis run.
type Request struct {
	MarkdownPath      string
	OutputDir         string
	BookName          string
	VoiceName         string
	ImproveTranscript bool
}

// ExportAudiobook runs the export_audiobook synthesis engine.
type ExportAudiobook struct {
	cfg    types.SynthesisConfig
	runner command.Runner
}

// NewExportAudiobook creates a synthesis adapter. An empty cfg.Command
// selects DefaultCommand.
func NewExportAudiobook(cfg types.SynthesisConfig, runner command.Runner) *ExportAudiobook {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	return &ExportAudiobook{cfg: cfg, runner: runner}
}

// Name returns the engine binary.
func (e *ExportAudiobook) Name() string { return e.cfg.Command }

// Args builds the engine arguments:
//
//	<markdown> <output_dir> --book_name=<name> [--voice_name=<voice>] [-i] [extra...]
//
// The request voice wins over the configured default.
func (e *ExportAudiobook) Args(req Request) []string {
	args := []string{req.MarkdownPath, req.OutputDir, "--book_name=" + req.BookName}

	voice := req.VoiceName
	if voice == "" {
		voice = e.cfg.VoiceName
	}
	if voice != "" {
		args = append(args, "--voice_name="+voice)
	}
	if req.ImproveTranscript || e.cfg.ImproveTranscript {
		args = append(args, "-i")
	}
	return append(args, e.cfg.ExtraArgs...)
}

// Synthesize runs the engine. A non-zero exit is returned as an error.
func (e *ExportAudiobook) Synthesize(ctx context.Context, req Request) (command.Log, error) {
	return command.Invoke(ctx, e.runner, e.cfg.Command, e.Args(req))
}
