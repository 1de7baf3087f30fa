// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/audiobook-engine/internal/history"
	"github.com/pdiddy/audiobook-engine/internal/pipeline"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past conversion jobs",
	Long: `History lists the jobs recorded in the history database, newest first.
Use --id to show one job in full.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.Int("limit", history.DefaultLimit, "maximum number of jobs to list")
	f.String("id", "", "show a single job")
	f.Bool("json", false, "print as JSON")
	f.Bool("yaml", false, "print as YAML")
	historyCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.NewStore(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	f := cmd.Flags()
	limit, _ := f.GetInt("limit")
	id, _ := f.GetString("id")
	asJSON, _ := f.GetBool("json")
	asYAML, _ := f.GetBool("yaml")

	var records []types.JobRecord
	if id != "" {
		rec, err := store.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		records = []types.JobRecord{rec}
	} else {
		records, err = store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	switch {
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case asYAML:
		data, err := yaml.Marshal(records)
		if err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		_, err = out.Write(data)
		return err
	case id != "":
		printRecord(out, records[0])
		return nil
	default:
		printRecords(out, records)
		return nil
	}
}

func statusLabel(s types.JobStatus) string {
	switch s {
	case types.JobSucceeded:
		return color.New(color.FgGreen).Sprint(s)
	case types.JobFailed:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}

func printRecords(w io.Writer, records []types.JobRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no jobs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tBOOK\tDURATION\tAUDIO")
	for _, r := range records {
		audio := r.AudioPath
		if r.Status == types.JobFailed {
			audio = "(" + string(r.FailedStage) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			statusLabel(r.Status),
			r.BookName,
			r.Duration().Round(time.Second),
			audio,
		)
	}
	tw.Flush()
}

func printRecord(w io.Writer, r types.JobRecord) {
	fmt.Fprintf(w, "id:        %s\n", r.ID)
	fmt.Fprintf(w, "status:    %s\n", statusLabel(r.Status))
	fmt.Fprintf(w, "book:      %s\n", r.BookName)
	if r.VoiceName != "" {
		fmt.Fprintf(w, "voice:     %s\n", r.VoiceName)
	}
	fmt.Fprintf(w, "source:    %s\n", r.SourcePDF)
	fmt.Fprintf(w, "output:    %s\n", r.OutputDir)
	if r.MarkdownPath != "" {
		fmt.Fprintf(w, "markdown:  %s (%d pages)\n", r.MarkdownPath, r.PageCount)
	}
	if r.AudioPath != "" {
		fmt.Fprintf(w, "audio:     %s\n", r.AudioPath)
	}
	fmt.Fprintf(w, "started:   %s\n", r.StartedAt.Local().Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "duration:  %s\n", r.Duration().Round(time.Second))
	}
	if r.Error != "" {
		fmt.Fprintf(w, "stage:     %s\n", r.FailedStage)
		fmt.Fprintf(w, "error:     %s\n", r.Error)
	}

	m, ok := manifestFor(r)
	if !ok {
		return
	}
	if len(m.MissingImages) > 0 {
		fmt.Fprintf(w, "missing:   %d image references\n", len(m.MissingImages))
	}
	if len(m.Logs) > 0 {
		fmt.Fprintln(w, "commands:")
		for _, l := range m.Logs {
			fmt.Fprintf(w, "  [exit %d, %s] %s\n", l.ExitCode, l.Duration.Round(time.Second), l.String())
		}
	}
}

// manifestFor loads the manifest in the job's output directory. Jobs that
// share a directory overwrite it, so only a manifest naming r.ID counts.
func manifestFor(r types.JobRecord) (pipeline.Result, bool) {
	if r.OutputDir == "" {
		return pipeline.Result{}, false
	}
	m, err := pipeline.ReadManifest(filepath.Join(r.OutputDir, pipeline.ManifestFile))
	if err != nil || m.Job.ID != r.ID {
		return pipeline.Result{}, false
	}
	return m, true
}

// shortID returns the first block of a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
