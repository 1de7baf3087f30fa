// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/shlex"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/internal/encode"
	"github.com/pdiddy/audiobook-engine/internal/extract"
	"github.com/pdiddy/audiobook-engine/internal/fetch"
	"github.com/pdiddy/audiobook-engine/internal/history"
	"github.com/pdiddy/audiobook-engine/internal/pdfcheck"
	"github.com/pdiddy/audiobook-engine/internal/pipeline"
	"github.com/pdiddy/audiobook-engine/internal/synth"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

func setDefaults() {
	viper.SetDefault("output_dir", "output")
	viper.SetDefault("secrets_dir", ".secrets")
	viper.SetDefault("env_file", ".env")
	viper.SetDefault("check_pdf", true)

	viper.SetDefault("extraction.command", extract.DefaultCommand)
	viper.SetDefault("extraction.use_llm", true)

	viper.SetDefault("synthesis.command", synth.DefaultCommand)
	viper.SetDefault("synthesis.improve_transcript", false)

	viper.SetDefault("encoding.enabled", true)
	viper.SetDefault("encoding.command", encode.DefaultCommand)
	viper.SetDefault("encoding.format", encode.DefaultFormat)
	viper.SetDefault("encoding.bitrate", encode.DefaultBitrate)
	viper.SetDefault("encoding.sample_rate", encode.DefaultSampleRate)
	viper.SetDefault("encoding.channels", encode.DefaultChannels)

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.path", "")

	viper.SetDefault("fetch.timeout", fetch.DefaultTimeout)
	viper.SetDefault("fetch.user_agent", fetch.DefaultUserAgent)
	viper.SetDefault("fetch.max_retries", 5)
}

// loadConfig reads the pipeline configuration from viper.
func loadConfig() (types.PipelineConfig, error) {
	extractArgs, err := extraArgs("extraction.extra_args")
	if err != nil {
		return types.PipelineConfig{}, err
	}
	synthArgs, err := extraArgs("synthesis.extra_args")
	if err != nil {
		return types.PipelineConfig{}, err
	}

	return types.PipelineConfig{
		Extraction: types.ExtractionConfig{
			Command:   viper.GetString("extraction.command"),
			UseLLM:    viper.GetBool("extraction.use_llm"),
			ExtraArgs: extractArgs,
		},
		Synthesis: types.SynthesisConfig{
			Command:           viper.GetString("synthesis.command"),
			VoiceName:         viper.GetString("synthesis.voice_name"),
			ImproveTranscript: viper.GetBool("synthesis.improve_transcript"),
			ExtraArgs:         synthArgs,
		},
		Encoding: types.EncodingConfig{
			Enabled:    viper.GetBool("encoding.enabled"),
			Command:    viper.GetString("encoding.command"),
			Format:     viper.GetString("encoding.format"),
			Bitrate:    viper.GetString("encoding.bitrate"),
			SampleRate: viper.GetInt("encoding.sample_rate"),
			Channels:   viper.GetInt("encoding.channels"),
		},
		History: types.HistoryConfig{
			Enabled: viper.GetBool("history.enabled"),
			Path:    viper.GetString("history.path"),
		},
		Fetch: types.FetchConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("fetch.timeout"),
				UserAgent: viper.GetString("fetch.user_agent"),
			},
			MaxRetries: viper.GetInt("fetch.max_retries"),
		},
		CheckPDF: viper.GetBool("check_pdf"),
	}, nil
}

// extraArgs reads key as a YAML list or as one shell-quoted string, which is
// how it arrives from an environment variable.
func extraArgs(key string) ([]string, error) {
	switch v := viper.Get(key).(type) {
	case nil:
		return nil, nil
	case string:
		args, err := shlex.Split(v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
		return args, nil
	default:
		return viper.GetStringSlice(key), nil
	}
}

// newRunner returns the process runner for the engines. Engine progress is
// echoed to stderr unless --quiet is set.
func newRunner() *command.ExecRunner {
	r := &command.ExecRunner{}
	if !viper.GetBool("quiet") {
		r.Progress = os.Stderr
	}
	return r
}

// newOrchestrator wires the engines described by cfg into a pipeline that
// writes status lines to w.
func newOrchestrator(cfg types.PipelineConfig, w io.Writer) *pipeline.Orchestrator {
	runner := newRunner()
	opts := pipeline.Options{
		Extractor:   extract.NewMarker(cfg.Extraction, runner),
		Synthesizer: synth.NewExportAudiobook(cfg.Synthesis, runner),
		Out:         w,
		Logger:      log.StandardLogger(),
		OnStage: func(stage types.Stage) {
			log.WithField("stage", stage).Info("stage started")
		},
		OnCommand: func(l command.Log) {
			log.WithFields(log.Fields{
				"exit":     l.ExitCode,
				"duration": l.Duration,
			}).Info(l.String())
		},
	}
	if cfg.Encoding.Enabled {
		opts.Encoder = encode.NewFFmpeg(cfg.Encoding, runner)
	}
	if cfg.CheckPDF {
		opts.Inspector = pdfcheck.New()
	}
	return pipeline.New(opts)
}

// openHistory opens the history database when enabled. Failures are logged
// and disable history for this run.
func openHistory(cfg types.HistoryConfig) *history.Store {
	if !cfg.Enabled {
		return nil
	}
	store, err := history.NewStore(cfg)
	if err != nil {
		log.WithError(err).Warn("job history disabled")
		return nil
	}
	return store
}
