package types

import "time"

// HTTPConfig holds shared HTTP settings used when the source PDF is a URL.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "audiobook-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// FetchConfig holds settings for downloading a remote source PDF.
type FetchConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxRetries bounds the retries on HTTP 429 responses (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ExtractionConfig holds settings for the PDF-to-Markdown engine.
type ExtractionConfig struct {
	// Command is the extraction binary (default "marker_single").
	Command string `json:"command" yaml:"command"`

	// UseLLM passes --use_llm and the API key to the engine (default true).
	UseLLM bool `json:"use_llm" yaml:"use_llm"`

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

// SynthesisConfig holds settings for the Markdown-to-audio engine.
type SynthesisConfig struct {
	// Command is the synthesis binary (default "export_audiobook").
	Command string `json:"command" yaml:"command"`

	// VoiceName is the default voice when a job does not name one.
	VoiceName string `json:"voice_name,omitempty" yaml:"voice_name,omitempty"`

	// ImproveTranscript passes -i to the engine.
	ImproveTranscript bool `json:"improve_transcript" yaml:"improve_transcript"`

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

// EncodingConfig holds settings for packaging audio segments with ffmpeg.
// Defaults: 44.1 kHz stereo at 192k.
type EncodingConfig struct {
	// Enabled turns the encoding stage on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Command is the ffmpeg binary (default "ffmpeg").
	Command string `json:"command" yaml:"command"`

	// Format is the output container and file extension (default "mp3").
	Format string `json:"format" yaml:"format"`

	// Bitrate is the audio bitrate passed to -b:a (default "192k").
	Bitrate string `json:"bitrate" yaml:"bitrate"`

	// SampleRate is the output sample rate in Hz (default 44100).
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`

	// Channels is the output channel count (default 2).
	Channels int `json:"channels" yaml:"channels"`
}

// HistoryConfig holds settings for the job history database.
type HistoryConfig struct {
	// Enabled records every run in the database.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `json:"path" yaml:"path"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Synthesis  SynthesisConfig  `json:"synthesis" yaml:"synthesis"`
	Encoding   EncodingConfig   `json:"encoding" yaml:"encoding"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Fetch      FetchConfig      `json:"fetch" yaml:"fetch"`

	// CheckPDF verifies the source PDF is readable before any engine runs.
	CheckPDF bool `json:"check_pdf" yaml:"check_pdf"`
}
