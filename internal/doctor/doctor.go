// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package doctor checks that the engines the pipeline drives are installed
// and that a job could write its output.
package doctor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pdiddy/audiobook-engine/internal/command"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Item is one check result with an optional hint.
type Item struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Status  Status `json:"status" yaml:"status"`
	Message string `json:"message" yaml:"message"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Report aggregates the checks.
type Report struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	HasFailures bool      `json:"has_failures" yaml:"has_failures"`
	Items       []Item    `json:"items" yaml:"items"`
}

// Settings names what to check.
type Settings struct {
	ExtractionCommand string
	SynthesisCommand  string

	// EncodingCommand is checked only when EncodingEnabled is set; otherwise
	// a missing binary is a warning.
	EncodingCommand string
	EncodingEnabled bool

	OutputDir string

	// NeedsAPIKey reports whether extraction runs with the LLM.
	NeedsAPIKey bool
	APIKeySet   bool
}

// Checker runs the checks against the real environment or injected fakes.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   command.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(s Settings) Report {
	items := []Item{
		c.checkTool(s.ExtractionCommand, "Install the marker-pdf package so the extraction engine is on PATH.", true),
		c.checkTool(s.SynthesisCommand, "Install the audiobook exporter so the synthesis engine is on PATH.", true),
		c.checkTool(s.EncodingCommand, "Install ffmpeg, or run with --no-encode.", s.EncodingEnabled),
		checkAPIKey(s),
		c.checkOutputDir(s.OutputDir),
	}

	report := Report{GeneratedAt: time.Now().UTC(), Items: items}
	for _, item := range items {
		if item.Status == StatusFail {
			report.HasFailures = true
			break
		}
	}
	return report
}

// checkTool verifies an executable is on PATH. A missing optional tool is a
// warning.
func (c *Checker) checkTool(name, hint string, required bool) Item {
	item := Item{ID: "tool_" + name, Name: name}
	path, err := c.lookPath(name)
	if err != nil {
		item.Status = StatusFail
		if !required {
			item.Status = StatusWarn
		}
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
		item.Hint = hint
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

func checkAPIKey(s Settings) Item {
	item := Item{ID: "api_key", Name: "Google API key"}
	switch {
	case !s.NeedsAPIKey:
		item.Status = StatusPass
		item.Message = "Not required (LLM extraction disabled)."
	case s.APIKeySet:
		item.Status = StatusPass
		item.Message = "Configured."
	default:
		item.Status = StatusFail
		item.Message = "No API key found."
		item.Hint = "Write it to .secrets/google-api-key, set GOOGLE_API_KEY, or pass --google-api-key."
	}
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) Item {
	item := Item{ID: "output_dir", Name: "Output directory"}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = StatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set output_dir in the config file or pass --output-dir."
		return item
	}
	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for the audiobook."
		return item
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}
