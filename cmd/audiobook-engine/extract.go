// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf|url>",
	Short: "Extract a PDF into Markdown without synthesizing it",
	Long: `Extract runs only the extraction engine and validates its output. The
Markdown lands in <output-dir>/<name>/<name>.md next to the page images; use
"synthesize" on it later.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	addExtractionFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	pdfPath, err := resolveSource(ctx, cfg.Fetch, args[0], viper.GetString("output_dir"))
	if err != nil {
		return err
	}
	job := newJob(cmd, cfg, pdfPath)

	out := cmd.OutOrStdout()
	res, err := newOrchestrator(cfg, out).ExtractOnly(ctx, job)
	if err != nil {
		printFailure(cmd.ErrOrStderr(), err)
		return err
	}

	md := res.Markdown
	fmt.Fprintf(out, "markdown: %s\n", md.Path)
	fmt.Fprintf(out, "pages:    %d\n", md.PageCount)
	fmt.Fprintf(out, "images:   %d\n", len(md.DerivedImagePaths))
	for _, ref := range res.MissingImages {
		fmt.Fprintf(out, "missing:  %s\n", ref)
	}
	return nil
}
