package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
)

// JobStore is the record side of the generation queue.
type JobStore interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) (bool, error)
	CompleteJob(ctx context.Context, jobID, resultURL string) error
	FailJob(ctx context.Context, jobID, errMsg string) error
}

// Renderer produces the asset for a job.
type Renderer interface {
	Render(ctx context.Context, jobType model.JobType, prompt string, cfg model.GenerationConfig, progress service.ProgressFunc) (string, error)
}

// GenerationWorker processes generation tasks
type GenerationWorker struct {
	jobs     JobStore
	renderer Renderer
	log      zerolog.Logger
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(jobs JobStore, renderer Renderer, log zerolog.Logger) *GenerationWorker {
	return &GenerationWorker{
		jobs:     jobs,
		renderer: renderer,
		log:      log.With().Str("component", "generation_worker").Logger(),
	}
}

// ProcessTask handles generation task processing
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.GenerationJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.log.With().Str("job_id", payload.JobID).Str("job_type", string(payload.JobType)).Logger()
	log.Info().Msg("starting generation job")

	progress := func(p int, step string) bool {
		ok, err := w.jobs.UpdateJobProgress(ctx, payload.JobID, p, step)
		if err != nil {
			log.Warn().Err(err).Msg("failed to update progress")
			return !errors.Is(err, model.ErrJobNotFound)
		}
		return ok
	}

	url, err := w.renderer.Render(ctx, payload.JobType, payload.Prompt, payload.Config, progress)
	if errors.Is(err, service.ErrStopped) {
		log.Info().Msg("generation job cancelled")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.failJob(ctx, payload.JobID, err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.jobs.CompleteJob(ctx, payload.JobID, url); err != nil {
		w.failJob(ctx, payload.JobID, "Failed to save result")
		return err
	}

	log.Info().Str("result_url", url).Msg("generation job completed")
	return nil
}

func (w *GenerationWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(context.WithoutCancel(ctx), jobID, errMsg); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job as failed")
	}
}
