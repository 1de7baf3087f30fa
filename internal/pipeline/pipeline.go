// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences one PDF-to-audiobook conversion: validate the
// job, run the extraction engine, validate its Markdown, run the synthesis
// engine, copy the page images next to the audio and optionally encode the
// audio segments into a single file.
//
// Each step runs to completion before the next one starts. Any failure ends
// the job and is returned as an *Error naming the stage.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/audiobook-engine/internal/assets"
	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/internal/extract"
	"github.com/pdiddy/audiobook-engine/internal/synth"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// LockFile is created in the output directory while a job runs.
const LockFile = ".audiobook-engine.lock"

// Extractor turns a PDF into Markdown under an output directory.
type Extractor interface {
	Name() string
	NeedsAPIKey() bool
	Extract(ctx context.Context, pdfPath, outputDir, apiKey string) (command.Log, error)
}

// Synthesizer turns Markdown into audio under an output directory.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req synth.Request) (command.Log, error)
}

// Encoder packages audio segments into one file.
type Encoder interface {
	Name() string
	Format() string
	OutputPath(outputDir, baseName string) string
	Encode(ctx context.Context, segments []string, output string) (command.Log, error)
}

// Inspector reads a PDF before the engines see it.
type Inspector interface {
	PageCount(path string) (int, error)
}

// Options configures an Orchestrator. Extractor and Synthesizer are
// required; a nil Encoder disables encoding and a nil Inspector skips the
// PDF check.
type Options struct {
	Extractor   Extractor
	Synthesizer Synthesizer
	Encoder     Encoder
	Inspector   Inspector

	// Out receives one status line per completed stage. Nil discards them.
	Out io.Writer

	// Logger receives structured diagnostics. Nil uses the logrus standard
	// logger.
	Logger logrus.FieldLogger

	// OnStage is called when a stage starts.
	OnStage func(stage types.Stage)

	// OnCommand is called after every external invocation.
	OnCommand func(log command.Log)

	// SkipManifest disables writing manifest.yaml.
	SkipManifest bool
}

// Orchestrator runs conversion jobs.
type Orchestrator struct {
	opts Options
	now  func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{opts: opts, now: time.Now}
}

// Result describes everything a job produced.
type Result struct {
	Job      types.ConversionJob    `json:"job" yaml:"job"`
	Markdown types.MarkdownArtifact `json:"markdown" yaml:"markdown"`
	Audio    types.AudioArtifact    `json:"audio" yaml:"audio"`

	// Images are the propagated copies in the output directory.
	Images []string `json:"images,omitempty" yaml:"images,omitempty"`

	// MissingImages are references in the Markdown with no file behind them.
	MissingImages []string `json:"missing_images,omitempty" yaml:"missing_images,omitempty"`

	// SourcePages is the PDF page count when the PDF was checked.
	SourcePages int `json:"source_pages,omitempty" yaml:"source_pages,omitempty"`

	// Logs records every external invocation in order.
	Logs []command.Log `json:"commands" yaml:"commands"`

	ManifestPath string    `json:"-" yaml:"-"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
}

// Run executes the full pipeline and returns the audio artifact.
func (o *Orchestrator) Run(ctx context.Context, job types.ConversionJob) (types.AudioArtifact, error) {
	res, err := o.Execute(ctx, job)
	return res.Audio, err
}

// Execute executes the full pipeline and returns everything it produced.
// On failure the partial result is returned with the error.
func (o *Orchestrator) Execute(ctx context.Context, job types.ConversionJob) (Result, error) {
	res := Result{Job: job, StartedAt: o.now()}
	log := o.jobLogger(job)

	o.stage(types.StageValidation)
	if err := o.validate(&job, &res, true); err != nil {
		return o.finish(res, err)
	}

	unlock, err := o.prepare(job.OutputDir)
	if err != nil {
		return o.finish(res, err)
	}
	defer unlock()

	if err := o.extract(ctx, job, &res); err != nil {
		return o.finish(res, err)
	}
	if err := o.synthesize(ctx, job, &res); err != nil {
		return o.finish(res, err)
	}

	res.FinishedAt = o.now()
	res.ManifestPath = o.writeManifest(res, log)
	return res, nil
}

// ExtractOnly validates the job, runs the extraction engine and validates
// its Markdown. Synthesis is not started.
func (o *Orchestrator) ExtractOnly(ctx context.Context, job types.ConversionJob) (Result, error) {
	res := Result{Job: job, StartedAt: o.now()}

	o.stage(types.StageValidation)
	if err := o.validate(&job, &res, false); err != nil {
		return o.finish(res, err)
	}
	unlock, err := o.prepare(job.OutputDir)
	if err != nil {
		return o.finish(res, err)
	}
	defer unlock()

	if err := o.extract(ctx, job, &res); err != nil {
		return o.finish(res, err)
	}
	res.FinishedAt = o.now()
	return res, nil
}

// SynthesizeMarkdown runs synthesis, asset propagation and encoding on an
// existing Markdown file. job.SourcePDFPath is ignored.
func (o *Orchestrator) SynthesizeMarkdown(ctx context.Context, job types.ConversionJob, markdownPath string) (Result, error) {
	res := Result{Job: job, StartedAt: o.now()}
	log := o.jobLogger(job)

	o.stage(types.StageValidation)
	if err := validateMetadata(&job); err != nil {
		return o.finish(res, err)
	}
	md, err := extract.Inspect(markdownPath)
	if err != nil {
		return o.finish(res, missing(types.StageValidation, "markdown artifact not usable", markdownPath, err))
	}
	res.Markdown = md
	res.MissingImages = o.checkReferences(md.Path)

	unlock, err := o.prepare(job.OutputDir)
	if err != nil {
		return o.finish(res, err)
	}
	defer unlock()

	if err := o.synthesize(ctx, job, &res); err != nil {
		return o.finish(res, err)
	}
	res.FinishedAt = o.now()
	res.ManifestPath = o.writeManifest(res, log)
	return res, nil
}

// validate checks the job before anything is written or started.
func (o *Orchestrator) validate(job *types.ConversionJob, res *Result, needBook bool) error {
	pdf := strings.TrimSpace(job.SourcePDFPath)
	if pdf == "" {
		return invalid("source PDF path is required")
	}
	info, err := os.Stat(pdf)
	if err != nil {
		e := invalid("cannot access source PDF")
		e.Path, e.Err = pdf, err
		return e
	}
	if !info.Mode().IsRegular() {
		e := invalid("source PDF is not a regular file")
		e.Path = pdf
		return e
	}
	f, err := os.Open(pdf)
	if err != nil {
		e := invalid("source PDF is not readable")
		e.Path, e.Err = pdf, err
		return e
	}
	f.Close()
	job.SourcePDFPath = pdf

	if needBook {
		if err := validateMetadata(job); err != nil {
			return err
		}
	} else if strings.TrimSpace(job.OutputDir) == "" {
		return invalid("output directory is required")
	}

	if o.opts.Extractor.NeedsAPIKey() && strings.TrimSpace(job.LLMAPIKey) == "" {
		return invalid("an API key is required for %s", o.opts.Extractor.Name())
	}

	if o.opts.Inspector != nil {
		n, err := o.opts.Inspector.PageCount(pdf)
		if err != nil {
			e := invalid("source PDF cannot be read")
			e.Path, e.Err = pdf, err
			return e
		}
		res.SourcePages = n
	}
	return nil
}

// validateMetadata checks the fields synthesis needs.
func validateMetadata(job *types.ConversionJob) error {
	if strings.TrimSpace(job.BookName) == "" {
		return invalid("book name is required")
	}
	if strings.TrimSpace(job.OutputDir) == "" {
		return invalid("output directory is required")
	}
	job.BookName = strings.TrimSpace(job.BookName)
	return nil
}

// prepare creates the output directory and takes its lock. The returned
// func releases the lock.
func (o *Orchestrator) prepare(outputDir string) (func(), error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		e := invalid("cannot create output directory")
		e.Path, e.Err = outputDir, err
		return nil, e
	}

	lock := flock.New(filepath.Join(outputDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		e := invalid("cannot lock output directory")
		e.Path, e.Err = outputDir, err
		return nil, e
	}
	if !locked {
		return nil, &Error{
			Stage:   types.StageValidation,
			Kind:    ErrOutputBusy,
			Message: "another job is writing to the output directory",
			Path:    outputDir,
		}
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			o.opts.Logger.WithError(err).Warn("failed to release output lock")
		}
	}, nil
}

// extract runs the extraction engine and validates the Markdown it wrote.
func (o *Orchestrator) extract(ctx context.Context, job types.ConversionJob, res *Result) error {
	o.stage(types.StageExtraction)
	log, err := o.opts.Extractor.Extract(ctx, job.SourcePDFPath, job.OutputDir, job.LLMAPIKey)
	o.record(res, log)
	if err != nil {
		return toolFailure(types.StageExtraction, log, err)
	}

	o.stage(types.StageValidation)
	md, err := extract.Locate(job.OutputDir, job.SourcePDFPath)
	if err != nil {
		expected := extract.MarkdownPath(job.OutputDir, job.SourcePDFPath)
		return missing(types.StageValidation, "extraction produced no usable markdown", expected, err)
	}
	res.Markdown = md
	res.MissingImages = o.checkReferences(md.Path)

	fmt.Fprintf(o.opts.Out, "extracted: %s (%d pages, %d images)\n", md.Path, md.PageCount, len(md.DerivedImagePaths))
	return nil
}

// synthesize runs the synthesis engine, propagates images and resolves the
// audio artifact.
func (o *Orchestrator) synthesize(ctx context.Context, job types.ConversionJob, res *Result) error {
	md := res.Markdown
	if md.Path == "" {
		return missing(types.StageSynthesis, "no markdown to synthesize", "", nil)
	}

	o.stage(types.StageSynthesis)
	before, err := synth.TakeSnapshot(job.OutputDir)
	if err != nil {
		return &Error{Stage: types.StageSynthesis, Message: "cannot record existing audio", Path: job.OutputDir, Err: err}
	}
	log, err := o.opts.Synthesizer.Synthesize(ctx, synth.Request{
		MarkdownPath:      md.Path,
		OutputDir:         job.OutputDir,
		BookName:          job.BookName,
		VoiceName:         job.VoiceName,
		ImproveTranscript: job.ImproveTranscript,
	})
	o.record(res, log)
	if err != nil {
		return toolFailure(types.StageSynthesis, log, err)
	}

	base := extract.BaseName(md.Path)
	sel := synth.Selection{Since: before}
	if mdDir := filepath.Dir(md.Path); !samePath(mdDir, job.OutputDir) {
		sel.Skip = append(sel.Skip, mdDir)
	}
	var encoded string
	if o.opts.Encoder != nil {
		encoded = o.opts.Encoder.OutputPath(job.OutputDir, base)
		sel.Skip = append(sel.Skip, encoded)
		sel.SkipPattern = "*." + o.opts.Encoder.Format()
	}
	segments, err := synth.Segments(job.OutputDir, sel)
	if err != nil {
		return missing(types.StageSynthesis, "cannot list synthesized audio", job.OutputDir, err)
	}
	if len(segments) == 0 {
		return missing(types.StageSynthesis, "synthesis produced no audio", job.OutputDir, nil)
	}
	fmt.Fprintf(o.opts.Out, "synthesized: %s (%d segments)\n", job.BookName, len(segments))

	o.stage(types.StageAssets)
	copied, err := assets.Propagate(md.DerivedImagePaths, job.OutputDir)
	if err != nil {
		return &Error{Stage: types.StageAssets, Message: "copying images", Path: job.OutputDir, Err: err}
	}
	res.Images = copied

	if o.opts.Encoder == nil {
		res.Audio = types.AudioArtifact{Path: segmentsPath(segments, job.OutputDir), Segments: segments}
		return nil
	}

	o.stage(types.StageEncoding)
	log, err = o.opts.Encoder.Encode(ctx, segments, encoded)
	o.record(res, log)
	if err != nil {
		if log.Command == "" {
			return &Error{Stage: types.StageEncoding, Message: "preparing " + o.opts.Encoder.Name() + " input", Path: encoded, Err: err}
		}
		return toolFailure(types.StageEncoding, log, err)
	}
	if info, err := os.Stat(encoded); err != nil || info.Size() == 0 {
		return missing(types.StageEncoding, "encoder produced no audio", encoded, err)
	}
	res.Audio = types.AudioArtifact{Path: encoded, Segments: segments, Encoded: true}
	fmt.Fprintf(o.opts.Out, "encoded: %s\n", encoded)
	return nil
}

// checkReferences logs image references the Markdown makes that no file
// satisfies. The engines tolerate them, so they are not fatal.
func (o *Orchestrator) checkReferences(mdPath string) []string {
	refs, err := assets.Missing(mdPath)
	if err != nil {
		o.opts.Logger.WithError(err).Warn("cannot check image references")
		return nil
	}
	for _, ref := range refs {
		o.opts.Logger.WithField("image", ref).Warn("markdown references a missing image")
	}
	return refs
}

func (o *Orchestrator) finish(res Result, err error) (Result, error) {
	res.FinishedAt = o.now()
	o.opts.Logger.WithFields(logrus.Fields{
		"job":   res.Job.ID,
		"stage": StageOf(err),
	}).WithError(err).Debug("job failed")
	return res, err
}

func (o *Orchestrator) stage(s types.Stage) {
	if o.opts.OnStage != nil {
		o.opts.OnStage(s)
	}
}

func (o *Orchestrator) record(res *Result, log command.Log) {
	if log.Command == "" {
		return
	}
	res.Logs = append(res.Logs, log)
	o.opts.Logger.WithFields(logrus.Fields{
		"command":  log.Command,
		"exit":     log.ExitCode,
		"duration": log.Duration,
	}).Debug(log.String())
	if o.opts.OnCommand != nil {
		o.opts.OnCommand(log)
	}
}

func (o *Orchestrator) jobLogger(job types.ConversionJob) logrus.FieldLogger {
	return o.opts.Logger.WithField("job", job.ID)
}

// segmentsPath is the artifact path for unencoded output: the file itself
// for one segment, otherwise the directory holding them all.
func segmentsPath(segments []string, outputDir string) string {
	if len(segments) == 1 {
		return segments[0]
	}
	dir := filepath.Dir(segments[0])
	for _, s := range segments[1:] {
		if filepath.Dir(s) != dir {
			return outputDir
		}
	}
	return dir
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

