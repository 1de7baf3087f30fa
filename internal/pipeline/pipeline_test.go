// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/internal/synth"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

const sampleMarkdown = `<span id="page-0-0"></span>

# Chapter 1

![](_page_0_Picture_1.jpeg)

Tiny changes.

<span id="page-1-0"></span>

Remarkable results.
`

// fakeExtractor writes the files marker_single would write.
type fakeExtractor struct {
	calls    int
	needsKey bool
	markdown string
	images   []string
	skip     bool
	err      error
	gotOut   string
	gotKey   string
}

func (f *fakeExtractor) Name() string      { return "marker_single" }
func (f *fakeExtractor) NeedsAPIKey() bool { return f.needsKey }

func (f *fakeExtractor) Extract(_ context.Context, pdfPath, outputDir, apiKey string) (command.Log, error) {
	f.calls++
	f.gotOut, f.gotKey = outputDir, apiKey
	log := command.Log{Command: "marker_single", Args: []string{pdfPath, "--output_dir", outputDir}}
	if f.err != nil {
		log.ExitCode = 1
		return log, f.err
	}
	if f.skip {
		return log, nil
	}
	base := filepath.Base(pdfPath)
	base = base[:len(base)-len(filepath.Ext(base))]
	dir := filepath.Join(outputDir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return log, err
	}
	if err := os.WriteFile(filepath.Join(dir, base+".md"), []byte(f.markdown), 0o644); err != nil {
		return log, err
	}
	for _, img := range f.images {
		if err := os.WriteFile(filepath.Join(dir, img), []byte("img"), 0o644); err != nil {
			return log, err
		}
	}
	return log, nil
}

// fakeSynthesizer writes audio segments into the output directory and, with
// pages set, one exported page per segment.
type fakeSynthesizer struct {
	calls    int
	segments []string
	pages    bool
	err      error
	got      synth.Request
}

func (f *fakeSynthesizer) Name() string { return "export_audiobook" }

func (f *fakeSynthesizer) Synthesize(_ context.Context, req synth.Request) (command.Log, error) {
	f.calls++
	f.got = req
	log := command.Log{Command: "export_audiobook", Args: []string{req.MarkdownPath, req.OutputDir}}
	if f.err != nil {
		log.ExitCode = 2
		return log, f.err
	}
	for _, s := range f.segments {
		p := filepath.Join(req.OutputDir, s)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return log, err
		}
		if err := os.WriteFile(p, []byte("RIFF"), 0o644); err != nil {
			return log, err
		}
	}
	if !f.pages {
		return log, nil
	}
	for i, s := range f.segments {
		name := fmt.Sprintf("%d.html", i)
		if i == 0 {
			name = "index.html"
		}
		html := `<html><body><audio controls src="` + filepath.ToSlash(s) + `"></audio></body></html>`
		if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte(html), 0o644); err != nil {
			return log, err
		}
	}
	return log, nil
}

// fakeEncoder writes the output file.
type fakeEncoder struct {
	calls    int
	got      []string
	err      error
	setupErr error
	noOut    bool
}

func (f *fakeEncoder) Name() string   { return "ffmpeg" }
func (f *fakeEncoder) Format() string { return "mp3" }

func (f *fakeEncoder) OutputPath(outputDir, baseName string) string {
	return filepath.Join(outputDir, baseName+".mp3")
}

func (f *fakeEncoder) Encode(_ context.Context, segments []string, output string) (command.Log, error) {
	f.calls++
	f.got = segments
	if f.setupErr != nil {
		return command.Log{}, f.setupErr
	}
	log := command.Log{Command: "ffmpeg", Args: []string{output}}
	if f.err != nil {
		log.ExitCode = 1
		return log, f.err
	}
	if f.noOut {
		return log, nil
	}
	return log, os.WriteFile(output, []byte("ID3"), 0o644)
}

type fakeInspector struct {
	pages int
	err   error
}

func (f fakeInspector) PageCount(string) (int, error) { return f.pages, f.err }

type fixture struct {
	ext    *fakeExtractor
	syn    *fakeSynthesizer
	enc    *fakeEncoder
	out    bytes.Buffer
	stages []types.Stage
	cmds   []string
}

func newFixture() *fixture {
	return &fixture{
		ext: &fakeExtractor{markdown: sampleMarkdown, images: []string{"_page_0_Picture_1.jpeg"}},
		syn: &fakeSynthesizer{segments: []string{"assets/b1.wav", "assets/a2.wav"}},
		enc: &fakeEncoder{},
	}
}

func (f *fixture) orchestrator(withEncoder bool) *Orchestrator {
	opts := Options{
		Extractor:   f.ext,
		Synthesizer: f.syn,
		Out:         &f.out,
		OnStage:     func(s types.Stage) { f.stages = append(f.stages, s) },
		OnCommand:   func(l command.Log) { f.cmds = append(f.cmds, l.Command) },
	}
	if withEncoder {
		opts.Encoder = f.enc
	}
	return New(opts)
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
	return p
}

func newJob(t *testing.T) types.ConversionJob {
	t.Helper()
	dir := t.TempDir()
	return types.ConversionJob{
		ID:            "job-1",
		SourcePDFPath: writePDF(t, dir, "atomic-habits.pdf"),
		OutputDir:     filepath.Join(dir, "output", "full"),
		BookName:      "Atomic Habits",
		VoiceName:     "af_heart",
		LLMAPIKey:     "AIza-test",
	}
}

func TestRunProducesOneEncodedArtifact(t *testing.T) {
	f := newFixture()
	job := newJob(t)

	res, err := f.orchestrator(true).Execute(context.Background(), job)
	require.NoError(t, err)

	want := filepath.Join(job.OutputDir, "atomic-habits.mp3")
	assert.Equal(t, want, res.Audio.Path)
	assert.True(t, res.Audio.Encoded)
	assert.FileExists(t, want)
	assert.Equal(t, 1, f.enc.calls)
	assert.Len(t, res.Audio.Segments, 2)
	assert.Equal(t, res.Audio.Segments, f.enc.got)

	assert.Equal(t, filepath.Join(job.OutputDir, "atomic-habits", "atomic-habits.md"), res.Markdown.Path)
	assert.Equal(t, 2, res.Markdown.PageCount)
	assert.Equal(t, []string{filepath.Join(job.OutputDir, "_page_0_Picture_1.jpeg")}, res.Images)
	assert.FileExists(t, filepath.Join(job.OutputDir, "_page_0_Picture_1.jpeg"))
	assert.Empty(t, res.MissingImages)

	assert.Equal(t, res.Markdown.Path, f.syn.got.MarkdownPath)
	assert.Equal(t, "Atomic Habits", f.syn.got.BookName)
	assert.Equal(t, "af_heart", f.syn.got.VoiceName)
	assert.Equal(t, "AIza-test", f.ext.gotKey)

	assert.Equal(t, []string{"marker_single", "export_audiobook", "ffmpeg"}, f.cmds)
	assert.Len(t, res.Logs, 3)
	assert.Equal(t, []types.Stage{
		types.StageValidation, types.StageExtraction, types.StageValidation,
		types.StageSynthesis, types.StageAssets, types.StageEncoding,
	}, f.stages)

	assert.Equal(t, filepath.Join(job.OutputDir, ManifestFile), res.ManifestPath)
	assert.Contains(t, f.out.String(), "extracted: ")
	assert.Contains(t, f.out.String(), "encoded: "+want)
}

func TestRunReturnsAudioArtifact(t *testing.T) {
	f := newFixture()
	job := newJob(t)

	audio, err := f.orchestrator(true).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(job.OutputDir, "atomic-habits.mp3"), audio.Path)
}

func TestRunWithoutEncoding(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     func(out string) string
	}{
		{
			name:     "single segment is the artifact",
			segments: []string{"assets/only.wav"},
			want:     func(out string) string { return filepath.Join(out, "assets", "only.wav") },
		},
		{
			name:     "segments in one directory",
			segments: []string{"assets/a.wav", "assets/b.wav"},
			want:     func(out string) string { return filepath.Join(out, "assets") },
		},
		{
			name:     "segments spread out",
			segments: []string{"a.wav", "assets/b.wav"},
			want:     func(out string) string { return out },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.syn.segments = tt.segments
			job := newJob(t)

			res, err := f.orchestrator(false).Execute(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, tt.want(job.OutputDir), res.Audio.Path)
			assert.False(t, res.Audio.Encoded)
			assert.Len(t, res.Audio.Segments, len(tt.segments))
			assert.Equal(t, 0, f.enc.calls)
		})
	}
}

func TestRunMissingMarkdownStopsBeforeSynthesis(t *testing.T) {
	f := newFixture()
	f.ext.skip = true
	job := newJob(t)

	_, err := f.orchestrator(true).Execute(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Equal(t, types.StageValidation, StageOf(err))

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, filepath.Join(job.OutputDir, "atomic-habits", "atomic-habits.md"), pe.Path)
	assert.Equal(t, 1, f.ext.calls)
	assert.Equal(t, 0, f.syn.calls)
}

func TestRunEmptyMarkdownIsMissing(t *testing.T) {
	f := newFixture()
	f.ext.markdown = "  \n\t\n"
	job := newJob(t)

	_, err := f.orchestrator(true).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Equal(t, 0, f.syn.calls)
}

func TestRunInvalidInputStartsNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.ConversionJob)
	}{
		{"missing pdf", func(j *types.ConversionJob) { j.SourcePDFPath = filepath.Join(filepath.Dir(j.SourcePDFPath), "absent.pdf") }},
		{"blank pdf path", func(j *types.ConversionJob) { j.SourcePDFPath = "   " }},
		{"pdf is a directory", func(j *types.ConversionJob) { j.SourcePDFPath = filepath.Dir(j.SourcePDFPath) }},
		{"empty book name", func(j *types.ConversionJob) { j.BookName = "" }},
		{"blank book name", func(j *types.ConversionJob) { j.BookName = " \t" }},
		{"empty output dir", func(j *types.ConversionJob) { j.OutputDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			job := newJob(t)
			out := job.OutputDir
			tt.mutate(&job)

			_, err := f.orchestrator(true).Execute(context.Background(), job)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, types.StageValidation, StageOf(err))
			assert.Equal(t, 0, f.ext.calls)
			assert.Equal(t, 0, f.syn.calls)
			assert.Empty(t, f.cmds)
			assert.NoDirExists(t, out)
		})
	}
}

func TestRunRequiresAPIKeyWhenExtractorNeedsOne(t *testing.T) {
	f := newFixture()
	f.ext.needsKey = true
	job := newJob(t)
	job.LLMAPIKey = ""

	_, err := f.orchestrator(true).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, f.ext.calls)
}

func TestRunInspectorRejectsPDF(t *testing.T) {
	f := newFixture()
	job := newJob(t)
	o := New(Options{Extractor: f.ext, Synthesizer: f.syn, Inspector: fakeInspector{err: errors.New("corrupt xref")}})

	_, err := o.Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "corrupt xref")
	assert.Equal(t, 0, f.ext.calls)

	o = New(Options{Extractor: f.ext, Synthesizer: f.syn, Inspector: fakeInspector{pages: 12}})
	res, err := o.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 12, res.SourcePages)
}

func TestRunToolFailureNamesStage(t *testing.T) {
	boom := errors.New("exited with code 1")
	tests := []struct {
		name   string
		setup  func(*fixture)
		stage  types.Stage
		synths int
	}{
		{"extraction", func(f *fixture) { f.ext.err = boom }, types.StageExtraction, 0},
		{"synthesis", func(f *fixture) { f.syn.err = boom }, types.StageSynthesis, 1},
		{"encoding", func(f *fixture) { f.enc.err = boom }, types.StageEncoding, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			_, err := f.orchestrator(true).Execute(context.Background(), newJob(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExternalTool)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tt.stage, StageOf(err))
			assert.Contains(t, err.Error(), string(tt.stage))
			assert.Equal(t, tt.synths, f.syn.calls)

			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Log.Command)
			assert.NotZero(t, pe.Log.ExitCode)
		})
	}
}

func TestRunNoAudioIsMissingArtifact(t *testing.T) {
	f := newFixture()
	f.syn.segments = nil
	job := newJob(t)

	_, err := f.orchestrator(true).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Equal(t, types.StageSynthesis, StageOf(err))
	assert.Equal(t, 0, f.enc.calls)
}

func TestRunEncoderWithoutOutputIsMissingArtifact(t *testing.T) {
	f := newFixture()
	f.enc.noOut = true

	_, err := f.orchestrator(true).Execute(context.Background(), newJob(t))
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Equal(t, types.StageEncoding, StageOf(err))
}

func TestRunIgnoresAudioUnderMarkdownDir(t *testing.T) {
	f := newFixture()
	f.ext.images = append(f.ext.images, "stray.wav")
	f.syn.segments = []string{"assets/one.wav"}
	job := newJob(t)

	res, err := f.orchestrator(false).Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(job.OutputDir, "assets", "one.wav")}, res.Audio.Segments)
}

// ageTree backdates every file under dir so it looks left over from an
// earlier job.
func ageTree(t *testing.T, dir string) {
	t.Helper()
	old := time.Now().Add(-time.Hour)
	require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chtimes(path, old, old)
	}))
}

func TestRunSharedOutputDirKeepsBooksApart(t *testing.T) {
	tests := []struct {
		name  string
		pages bool
		a, b  []string
	}{
		{
			name: "sorted walk",
			a:    []string{"assets/a1.wav", "assets/a2.wav"},
			b:    []string{"assets/b1.wav"},
		},
		{
			name:  "exported pages",
			pages: true,
			a:     []string{"assets/a0.wav", "assets/a1.wav", "assets/a2.wav"},
			b:     []string{"assets/b0.wav"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "output")

			f := newFixture()
			f.syn.pages = tt.pages
			f.syn.segments = tt.a
			bookA := types.ConversionJob{
				ID: "a", SourcePDFPath: writePDF(t, dir, "book-a.pdf"), OutputDir: out, BookName: "Book A",
			}
			_, err := f.orchestrator(true).Execute(context.Background(), bookA)
			require.NoError(t, err)
			require.FileExists(t, filepath.Join(out, "book-a.mp3"))
			ageTree(t, out)

			f.syn.segments = tt.b
			bookB := types.ConversionJob{
				ID: "b", SourcePDFPath: writePDF(t, dir, "book-b.pdf"), OutputDir: out, BookName: "Book B",
			}
			res, err := f.orchestrator(true).Execute(context.Background(), bookB)
			require.NoError(t, err)

			var want []string
			for _, s := range tt.b {
				want = append(want, filepath.Join(out, filepath.FromSlash(s)))
			}
			assert.Equal(t, want, f.enc.got)
			assert.Equal(t, want, res.Audio.Segments)
			assert.Equal(t, filepath.Join(out, "book-b.mp3"), res.Audio.Path)
		})
	}
}

func TestRunEncoderSetupFailureIsNotToolFailure(t *testing.T) {
	f := newFixture()
	f.enc.setupErr = errors.New("creating concat list: disk full")

	_, err := f.orchestrator(true).Execute(context.Background(), newJob(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExternalTool)
	assert.Equal(t, types.StageEncoding, StageOf(err))
	assert.Contains(t, err.Error(), "ffmpeg")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"marker_single", "export_audiobook"}, f.cmds)
}

func TestRunIsIdempotentOnPaths(t *testing.T) {
	f := newFixture()
	job := newJob(t)
	o := f.orchestrator(true)

	first, err := o.Execute(context.Background(), job)
	require.NoError(t, err)
	second, err := o.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, first.Markdown.Path, second.Markdown.Path)
	assert.Equal(t, first.Audio.Path, second.Audio.Path)
	assert.Equal(t, first.Audio.Segments, second.Audio.Segments)
	assert.Equal(t, first.Images, second.Images)
}

func TestRunExpectedMarkdownPathExample(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writePDF(t, dir, "atomic-habits.pdf")

	f := newFixture()
	f.ext.skip = true
	_, err := f.orchestrator(true).Execute(context.Background(), types.ConversionJob{
		SourcePDFPath: "atomic-habits.pdf",
		OutputDir:     "output/full/",
		BookName:      "Atomic Habits",
	})

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, filepath.FromSlash("output/full/atomic-habits/atomic-habits.md"), pe.Path)
}

func TestRunOutputBusy(t *testing.T) {
	f := newFixture()
	job := newJob(t)
	require.NoError(t, os.MkdirAll(job.OutputDir, 0o755))

	held := flock.New(filepath.Join(job.OutputDir, LockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = f.orchestrator(true).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrOutputBusy)
	assert.Equal(t, 0, f.ext.calls)
}

func TestRunReportsMissingImageReferences(t *testing.T) {
	f := newFixture()
	f.ext.images = nil

	res, err := f.orchestrator(true).Execute(context.Background(), newJob(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"_page_0_Picture_1.jpeg"}, res.MissingImages)
	assert.Empty(t, res.Images)
}

func TestExtractOnly(t *testing.T) {
	f := newFixture()
	job := newJob(t)
	job.BookName = ""

	res, err := f.orchestrator(true).ExtractOnly(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(job.OutputDir, "atomic-habits", "atomic-habits.md"), res.Markdown.Path)
	assert.Equal(t, 0, f.syn.calls)
	assert.NoFileExists(t, filepath.Join(job.OutputDir, ManifestFile))
}

func TestSynthesizeMarkdown(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()
	md := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(md, []byte("# Notes\n\nHello.\n"), 0o644))
	job := types.ConversionJob{OutputDir: dir, BookName: "Notes"}

	res, err := f.orchestrator(true).SynthesizeMarkdown(context.Background(), job, md)
	require.NoError(t, err)
	assert.Equal(t, 0, f.ext.calls)
	assert.Equal(t, md, f.syn.got.MarkdownPath)
	assert.Equal(t, filepath.Join(dir, "notes.mp3"), res.Audio.Path)
	assert.Len(t, res.Audio.Segments, 2)
}

func TestSynthesizeMarkdownMissing(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()

	_, err := f.orchestrator(true).SynthesizeMarkdown(context.Background(),
		types.ConversionJob{OutputDir: dir, BookName: "Notes"}, filepath.Join(dir, "absent.md"))
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Equal(t, 0, f.syn.calls)
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Stage:   types.StageSynthesis,
		Kind:    ErrExternalTool,
		Message: "export_audiobook failed",
		Log:     command.Log{Command: "export_audiobook", ExitCode: 2},
		Err:     errors.New("exit status 2"),
	}
	assert.Equal(t, "synthesis: export_audiobook failed (cmd=export_audiobook exit=2): exit status 2", err.Error())
	assert.Equal(t, types.Stage(""), StageOf(errors.New("plain")))

	var nilErr *Error
	assert.Equal(t, "", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}
