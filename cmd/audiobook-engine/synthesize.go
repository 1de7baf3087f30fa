// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"
)

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize <markdown>",
	Short: "Synthesize an existing Markdown file into an audiobook",
	Long: `Synthesize skips extraction and runs the synthesis engine on a Markdown
file you already have, then copies the images beside it into the output
directory and encodes the audio.`,
	Args: cobra.ExactArgs(1),
	RunE: runSynthesize,
}

func init() {
	f := synthesizeCmd.Flags()
	addSynthesisFlags(synthesizeCmd)
	f.Bool("no-encode", false, "leave the synthesized segments as produced")
	f.String("format", "", `encoded audio format (default "mp3")`)

	rootCmd.AddCommand(synthesizeCmd)
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	job := newJob(cmd, cfg, "")
	out := cmd.OutOrStdout()
	res, err := newOrchestrator(cfg, out).SynthesizeMarkdown(ctx, job, args[0])
	if err != nil {
		printFailure(cmd.ErrOrStderr(), err)
		return err
	}
	printAudio(out, res.Audio)
	return nil
}
