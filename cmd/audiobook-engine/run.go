// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/internal/fetch"
	"github.com/pdiddy/audiobook-engine/internal/history"
	"github.com/pdiddy/audiobook-engine/internal/pipeline"
	"github.com/pdiddy/audiobook-engine/internal/secrets"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// stderrTailLines is how much engine stderr is shown on failure.
const stderrTailLines = 20

var runCmd = &cobra.Command{
	Use:   "run <pdf|url>",
	Short: "Convert a PDF into an audiobook",
	Long: `Run extracts the PDF into Markdown, validates the Markdown, synthesizes
it into audio, copies the page images next to the audio and encodes the
segments into <output-dir>/<name>.<format>.

The source may be a local path or an http(s) URL, which is downloaded into the
output directory first.`,
	Example: `  audiobook-engine run atomic-habits.pdf --book-name "Atomic Habits" -o output/full
  audiobook-engine run book.pdf --book-name Book --voice-name af_heart -i --no-encode`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	addSynthesisFlags(runCmd)
	addExtractionFlags(runCmd)
	f.Bool("no-encode", false, "leave the synthesized segments as produced")
	f.String("format", "", `encoded audio format (default "mp3")`)
	f.Bool("no-history", false, "do not record this run in the history database")

	rootCmd.AddCommand(runCmd)
}

func addExtractionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("google-api-key", "", "API key for LLM-assisted extraction (default: .secrets/google-api-key or $GOOGLE_API_KEY)")
	f.Bool("no-llm", false, "run extraction without the LLM")
	f.Bool("skip-pdf-check", false, "do not verify the PDF can be read before extraction")
}

func addSynthesisFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("book-name", "", "book title passed to the synthesis engine (required)")
	f.String("voice-name", "", "synthesis voice (default: engine default)")
	f.BoolP("improve-transcript", "i", false, "let the synthesis engine clean the transcript with an LLM")
}

// applyFlags overrides cfg with the command-line flags cmd defines.
func applyFlags(cmd *cobra.Command, cfg *types.PipelineConfig) {
	f := cmd.Flags()
	if f.Lookup("no-llm") != nil {
		if v, _ := f.GetBool("no-llm"); v {
			cfg.Extraction.UseLLM = false
		}
	}
	if f.Lookup("skip-pdf-check") != nil {
		if v, _ := f.GetBool("skip-pdf-check"); v {
			cfg.CheckPDF = false
		}
	}
	if f.Lookup("no-encode") != nil {
		if v, _ := f.GetBool("no-encode"); v {
			cfg.Encoding.Enabled = false
		}
	}
	if f.Lookup("format") != nil {
		if v, _ := f.GetString("format"); v != "" {
			cfg.Encoding.Format = v
		}
	}
	if f.Lookup("no-history") != nil {
		if v, _ := f.GetBool("no-history"); v {
			cfg.History.Enabled = false
		}
	}
}

// newJob builds the job from the synthesis flags. The API key is resolved
// only when extraction runs with the LLM.
func newJob(cmd *cobra.Command, cfg types.PipelineConfig, pdfPath string) types.ConversionJob {
	f := cmd.Flags()
	bookName, _ := f.GetString("book-name")
	voice, _ := f.GetString("voice-name")
	improve, _ := f.GetBool("improve-transcript")

	job := types.ConversionJob{
		ID:                uuid.New().String(),
		SourcePDFPath:     pdfPath,
		OutputDir:         viper.GetString("output_dir"),
		BookName:          bookName,
		VoiceName:         voice,
		ImproveTranscript: improve,
	}
	if cfg.Extraction.UseLLM && f.Lookup("google-api-key") != nil {
		key, _ := f.GetString("google-api-key")
		job.LLMAPIKey = secrets.Resolve(secrets.GoogleAPIKey, key, loadedSecrets)
	}
	return job
}

// signalContext cancels on SIGINT or SIGTERM so running engines are killed.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// resolveSource downloads source into outputDir when it is a URL and returns
// the local PDF path.
func resolveSource(ctx context.Context, cfg types.FetchConfig, source, outputDir string) (string, error) {
	if !fetch.IsURL(source) {
		return source, nil
	}
	path, err := fetch.New(cfg, nil).Fetch(ctx, source, outputDir)
	if err != nil {
		return "", &pipeline.Error{
			Stage:   types.StageValidation,
			Kind:    pipeline.ErrInvalidInput,
			Message: "cannot download source PDF",
			Path:    source,
			Err:     err,
		}
	}
	return path, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	source := args[0]
	pdfPath, err := resolveSource(ctx, cfg.Fetch, source, viper.GetString("output_dir"))
	if err != nil {
		return err
	}
	job := newJob(cmd, cfg, pdfPath)
	logger := log.WithField("job", job.ID)

	store := openHistory(cfg.History)
	if store != nil {
		defer store.Close()
		if err := store.Record(ctx, history.Started(job, source, time.Now())); err != nil {
			logger.WithError(err).Warn("cannot record job start")
		}
	}

	out := cmd.OutOrStdout()
	res, runErr := newOrchestrator(cfg, out).Execute(ctx, job)

	if store != nil {
		if err := store.Record(context.Background(), history.Finished(source, res, runErr)); err != nil {
			logger.WithError(err).Warn("cannot record job result")
		}
	}
	if runErr != nil {
		printFailure(cmd.ErrOrStderr(), runErr)
		return runErr
	}

	printAudio(out, res.Audio)
	return nil
}

// printAudio reports the artifact, listing segments when there is no
// single file.
func printAudio(w io.Writer, a types.AudioArtifact) {
	if a.Encoded || len(a.Segments) <= 1 {
		fmt.Fprintf(w, "audiobook: %s\n", a.Path)
		return
	}
	fmt.Fprintf(w, "audiobook: %s (%d segments)\n", a.Path, len(a.Segments))
	for _, s := range a.Segments {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

// printFailure shows the tail of the failing engine's stderr.
func printFailure(w io.Writer, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) || pe.Log.Command == "" {
		return
	}
	fmt.Fprintf(w, "failed:  %s\n", pe.Log.String())
	if tail := command.Tail(pe.Log.Stderr, stderrTailLines); tail != "" {
		fmt.Fprintln(w, tail)
	}
}
