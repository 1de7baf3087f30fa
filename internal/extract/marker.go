// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract drives the PDF-to-Markdown extraction engine and validates
// what it leaves behind. The engine writes <output>/<base>/<base>.md plus the
// page images into the same directory, where <base> is the PDF file name
// without its extension.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/audiobook-engine/internal/assets"
	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/internal/pages"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// DefaultCommand is the extraction engine binary.
const DefaultCommand = "marker_single"

// Sentinel errors returned by Locate.
var (
	ErrArtifactMissing = errors.New("markdown artifact not found")
	ErrArtifactEmpty   = errors.New("markdown artifact is empty")
)

// Marker runs the marker_single extraction engine.
type Marker struct {
	cfg    types.ExtractionConfig
	runner command.Runner
}

// NewMarker creates an extraction adapter. An empty cfg.Command selects
// DefaultCommand.
func NewMarker(cfg types.ExtractionConfig, runner command.Runner) *Marker {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	return &Marker{cfg: cfg, runner: runner}
}

// Name returns the engine binary.
func (m *Marker) Name() string { return m.cfg.Command }

// NeedsAPIKey reports whether invocations require an LLM credential.
func (m *Marker) NeedsAPIKey() bool { return m.cfg.UseLLM }

// Args builds the engine arguments:
//
//	<pdf> [--use_llm --google_api_key <key>] --output_dir <dir> [extra...]
func (m *Marker) Args(pdfPath, outputDir, apiKey string) []string {
	args := []string{pdfPath}
	if m.cfg.UseLLM {
		args = append(args, "--use_llm", "--google_api_key", apiKey)
	}
	args = append(args, "--output_dir", outputDir)
	return append(args, m.cfg.ExtraArgs...)
}

// Extract runs the engine on pdfPath. The returned log has the API key
// redacted. A non-zero exit is returned as an error.
func (m *Marker) Extract(ctx context.Context, pdfPath, outputDir, apiKey string) (command.Log, error) {
	return command.Invoke(ctx, m.runner, m.cfg.Command, m.Args(pdfPath, outputDir, apiKey), apiKey)
}

// BaseName returns the PDF file name without its extension. The engine names
// its output directory and Markdown file after it.
func BaseName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MarkdownDir returns <outputDir>/<base>.
func MarkdownDir(outputDir, pdfPath string) string {
	return filepath.Join(outputDir, BaseName(pdfPath))
}

// MarkdownPath returns <outputDir>/<base>/<base>.md.
func MarkdownPath(outputDir, pdfPath string) string {
	base := BaseName(pdfPath)
	return filepath.Join(outputDir, base, base+".md")
}

// Locate validates the Markdown the engine produced for pdfPath and
// describes it. A missing path, a directory in its place, or a file holding
// only whitespace is an error wrapping ErrArtifactMissing or ErrArtifactEmpty.
func Locate(outputDir, pdfPath string) (types.MarkdownArtifact, error) {
	return Inspect(MarkdownPath(outputDir, pdfPath))
}

// Inspect validates the Markdown file at mdPath the same way Locate does.
func Inspect(mdPath string) (types.MarkdownArtifact, error) {
	info, err := os.Stat(mdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return types.MarkdownArtifact{}, fmt.Errorf("%w: %s", ErrArtifactMissing, mdPath)
		}
		return types.MarkdownArtifact{}, fmt.Errorf("checking %s: %w", mdPath, err)
	}
	if info.IsDir() {
		return types.MarkdownArtifact{}, fmt.Errorf("%w: %s is a directory", ErrArtifactMissing, mdPath)
	}

	data, err := os.ReadFile(mdPath)
	if err != nil {
		return types.MarkdownArtifact{}, fmt.Errorf("reading %s: %w", mdPath, err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return types.MarkdownArtifact{}, fmt.Errorf("%w: %s", ErrArtifactEmpty, mdPath)
	}

	images, err := assets.Images(filepath.Dir(mdPath))
	if err != nil {
		return types.MarkdownArtifact{}, err
	}

	return types.MarkdownArtifact{
		Path:              mdPath,
		DerivedImagePaths: images,
		PageCount:         pages.Count(content),
		Size:              info.Size(),
	}, nil
}
