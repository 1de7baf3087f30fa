// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the audiobook-engine CLI. It turns a
// PDF into an audiobook by driving an extraction engine (marker_single), a
// synthesis engine (export_audiobook) and ffmpeg.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/audiobook-engine/internal/pipeline"
	"github.com/pdiddy/audiobook-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from the secrets directory at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the audiobook-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "audiobook-engine",
	Short: "Convert PDF books into audiobooks",
	Long: `audiobook-engine converts a PDF into an audiobook in two external steps:
marker_single extracts the PDF into Markdown plus page images, and
export_audiobook speaks the Markdown. The engine validates what each step
leaves behind, copies the images next to the audio and, with ffmpeg on PATH,
packages the audio segments into a single file.

Use "run" for the whole pipeline, or "extract" and "synthesize" for one step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configureLogging(viper.GetString("log_level"))

		if err := secrets.LoadEnv(viper.GetString("env_file")); err != nil {
			return err
		}
		s, err := secrets.Load(viper.GetString("secrets_dir"))
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			log.WithField("keys", keys).Info("loaded secrets")
		}
		if set := secrets.Export(s); len(set) > 0 {
			log.WithField("vars", set).Debug("exported secrets to engine environment")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setDefaults()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./audiobook-engine.yaml or ~/.config/audiobook-engine/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error (default warn, or $LOG_LEVEL)")
	pf.StringP("output-dir", "o", "", `output directory (default "output")`)
	pf.Bool("quiet", false, "do not echo engine progress to stderr")

	viper.BindPFlag("log_level", pf.Lookup("log-level"))
	viper.BindPFlag("output_dir", pf.Lookup("output-dir"))
	viper.BindPFlag("quiet", pf.Lookup("quiet"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("audiobook-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "audiobook-engine"))
		}
	}

	viper.SetEnvPrefix("AUDIOBOOK_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// exitCode maps a failure kind to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrInvalidInput):
		return 2
	case errors.Is(err, pipeline.ErrExternalTool):
		return 3
	case errors.Is(err, pipeline.ErrMissingArtifact):
		return 4
	case errors.Is(err, pipeline.ErrOutputBusy):
		return 5
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
