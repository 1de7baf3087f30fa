// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"time"

	"github.com/pdiddy/audiobook-engine/internal/pipeline"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// Started returns the running record for job. source is what the user asked
// for, which may be a URL rather than the local PDF path.
func Started(job types.ConversionJob, source string, at time.Time) types.JobRecord {
	if source == "" {
		source = job.SourcePDFPath
	}
	return types.JobRecord{
		ID:        job.ID,
		SourcePDF: source,
		OutputDir: job.OutputDir,
		BookName:  job.BookName,
		VoiceName: job.VoiceName,
		Status:    types.JobRunning,
		StartedAt: at,
	}
}

// Finished returns the final record for a job from its pipeline result and
// error.
func Finished(source string, res pipeline.Result, err error) types.JobRecord {
	rec := Started(res.Job, source, res.StartedAt)
	rec.Status = types.JobSucceeded
	rec.MarkdownPath = res.Markdown.Path
	rec.AudioPath = res.Audio.Path
	rec.PageCount = res.Markdown.PageCount
	rec.FinishedAt = res.FinishedAt
	if err != nil {
		rec.Status = types.JobFailed
		rec.Error = err.Error()
		rec.FailedStage = pipeline.StageOf(err)
	}
	return rec
}
