// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/audiobook-engine/internal/doctor"
	"github.com/pdiddy/audiobook-engine/internal/encode"
	"github.com/pdiddy/audiobook-engine/internal/extract"
	"github.com/pdiddy/audiobook-engine/internal/secrets"
	"github.com/pdiddy/audiobook-engine/internal/synth"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the engines and the output directory are usable",
	Long: `Doctor looks for the extraction engine, the synthesis engine and ffmpeg on
PATH, checks an API key is available when extraction uses the LLM, and
verifies the output directory is writable.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	settings := doctor.Settings{
		ExtractionCommand: orDefault(cfg.Extraction.Command, extract.DefaultCommand),
		SynthesisCommand:  orDefault(cfg.Synthesis.Command, synth.DefaultCommand),
		EncodingCommand:   orDefault(cfg.Encoding.Command, encode.DefaultCommand),
		EncodingEnabled:   cfg.Encoding.Enabled,
		OutputDir:         viper.GetString("output_dir"),
		NeedsAPIKey:       cfg.Extraction.UseLLM,
		APIKeySet:         secrets.Resolve(secrets.GoogleAPIKey, "", loadedSecrets) != "",
	}
	report := doctor.NewChecker().Run(settings)

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if report.HasFailures {
		return errors.New("doctor found problems")
	}
	return nil
}

func printReport(w io.Writer, r doctor.Report) {
	pass := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	for _, it := range r.Items {
		var label string
		switch it.Status {
		case doctor.StatusPass:
			label = pass("PASS")
		case doctor.StatusWarn:
			label = warn("WARN")
		default:
			label = fail("FAIL")
		}
		fmt.Fprintf(w, "%s  %-20s %s\n", label, it.Name, it.Message)
		if it.Hint != "" && it.Status != doctor.StatusPass {
			fmt.Fprintf(w, "      %-20s %s\n", "", it.Hint)
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
