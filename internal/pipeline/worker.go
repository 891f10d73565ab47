package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Worker runs queued conversion jobs.
type Worker struct {
	conv *Converter
	log  *slog.Logger
}

func NewWorker(conv *Converter, log *slog.Logger) *Worker {
	return &Worker{conv: conv, log: log}
}

// Process converts the job's source and records the outcome on the job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "file", job.Filename)

	job.SetStatus(JobRunning, "converting")
	res, err := w.conv.Convert(ctx, job.Source())
	job.releaseSource()
	job.SetResult(res)

	for _, e := range res.Errors {
		if e.Page > 0 {
			job.AddError(fmt.Sprintf("%s page %d: %s", e.Stage, e.Page, e.Message))
		} else {
			job.AddError(fmt.Sprintf("%s: %s", e.Stage, e.Message))
		}
	}
	if err != nil {
		log.Error("job failed", "error", err)
		job.SetStatus(JobFailed, string(res.State))
		return
	}
	log.Info("job done", "status", res.Status)
	job.SetStatus(JobDone, "done")
}
