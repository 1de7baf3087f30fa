// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// JobStatus records the outcome of a conversion job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Stage names one step of the conversion pipeline.
type Stage string

const (
	StageValidation Stage = "validation"
	StageExtraction Stage = "extraction"
	StageSynthesis  Stage = "synthesis"
	StageAssets     Stage = "assets"
	StageEncoding   Stage = "encoding"
)

// ConversionJob describes one PDF-to-audiobook run. A job is built once per
// invocation and passed by value; the pipeline never mutates it.
type ConversionJob struct {
	// ID identifies the run in logs, the manifest, and the history database.
	ID string `json:"id" yaml:"id"`

	// SourcePDFPath is the local path of the PDF to convert.
	SourcePDFPath string `json:"source_pdf_path" yaml:"source_pdf_path"`

	// OutputDir receives the extraction subdirectory, the synthesized audio,
	// and the propagated images. It is created when absent.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// BookName is the title passed to the synthesis engine.
	BookName string `json:"book_name" yaml:"book_name"`

	// VoiceName selects the synthesis voice. Empty leaves the engine default.
	VoiceName string `json:"voice_name,omitempty" yaml:"voice_name,omitempty"`

	// LLMAPIKey is the credential handed to the extraction engine. It is
	// never serialized.
	LLMAPIKey string `json:"-" yaml:"-"`

	// ImproveTranscript asks the synthesis engine to clean the transcript
	// with an LLM before speaking it (export_audiobook -i).
	ImproveTranscript bool `json:"improve_transcript,omitempty" yaml:"improve_transcript,omitempty"`
}

// MarkdownArtifact is the validated output of the extraction stage.
type MarkdownArtifact struct {
	// Path is the Markdown file (output/<base>/<base>.md).
	Path string `json:"path" yaml:"path"`

	// DerivedImagePaths lists the image files written next to the Markdown.
	DerivedImagePaths []string `json:"derived_image_paths,omitempty" yaml:"derived_image_paths,omitempty"`

	// PageCount is the number of non-empty pages delimited by page markers.
	PageCount int `json:"page_count" yaml:"page_count"`

	// Size is the Markdown file size in bytes.
	Size int64 `json:"size" yaml:"size"`
}

// AudioArtifact is the terminal output of the pipeline.
type AudioArtifact struct {
	// Path is the audiobook file. When encoding is disabled and the engine
	// produced several segments, Path is the directory holding them.
	Path string `json:"path" yaml:"path"`

	// Segments lists the audio files the synthesis engine produced, in
	// playback order.
	Segments []string `json:"segments,omitempty" yaml:"segments,omitempty"`

	// Encoded reports whether Path was produced by the encoding stage.
	Encoded bool `json:"encoded" yaml:"encoded"`
}

// JobRecord is the persisted summary of a finished job.
type JobRecord struct {
	ID           string    `json:"id" yaml:"id"`
	SourcePDF    string    `json:"source_pdf" yaml:"source_pdf"`
	OutputDir    string    `json:"output_dir" yaml:"output_dir"`
	BookName     string    `json:"book_name" yaml:"book_name"`
	VoiceName    string    `json:"voice_name,omitempty" yaml:"voice_name,omitempty"`
	Status       JobStatus `json:"status" yaml:"status"`
	FailedStage  Stage     `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
	MarkdownPath string    `json:"markdown_path,omitempty" yaml:"markdown_path,omitempty"`
	AudioPath    string    `json:"audio_path,omitempty" yaml:"audio_path,omitempty"`
	PageCount    int       `json:"page_count" yaml:"page_count"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
}

// Duration returns how long the job ran.
func (r JobRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
