package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
)

const (
	TaskTypeGeneration = "generation:process"
	GenerationQueue    = "generation"

	// EventsChannel carries JobUpdate JSON for every record change.
	EventsChannel = "generation:events"

	jobTTL = 24 * time.Hour
)

// GenerationJobPayload is the asynq task payload.
type GenerationJobPayload struct {
	JobID   string                 `json:"jobId"`
	OwnerID string                 `json:"ownerId"`
	JobType model.JobType          `json:"jobType"`
	Prompt  string                 `json:"prompt"`
	Config  model.GenerationConfig `json:"config"`
}

// GenerationService is the generation queue backend: job records live in
// redis, work is dispatched through asynq and every change is published on
// EventsChannel.
type GenerationService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	log         zerolog.Logger
}

func NewGenerationService(redisClient *redis.Client, asynqClient *asynq.Client, inspector *asynq.Inspector, log zerolog.Logger) *GenerationService {
	return &GenerationService{
		redis:       redisClient,
		asynqClient: asynqClient,
		inspector:   inspector,
		log:         log.With().Str("component", "generation_service").Logger(),
	}
}

// SubmitJob stores a queued record and enqueues the task. The job id doubles
// as the asynq task id.
func (s *GenerationService) SubmitJob(ctx context.Context, req model.SubmitRequest) (string, error) {
	jobID := uuid.New().String()

	rec := &model.QueueRecord{
		ID:        jobID,
		OwnerID:   req.OwnerID,
		JobType:   req.JobType,
		Prompt:    req.Prompt,
		Config:    req.Config,
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := s.saveRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(GenerationJobPayload{
		JobID:   jobID,
		OwnerID: req.OwnerID,
		JobType: req.JobType,
		Prompt:  req.Prompt,
		Config:  req.Config,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeGeneration, payload),
		asynq.TaskID(jobID),
		asynq.Queue(GenerationQueue),
		asynq.MaxRetry(2),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		s.redis.Del(context.WithoutCancel(ctx), jobKey(jobID))
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	return jobID, nil
}

// Poll returns the latest observation of a job.
func (s *GenerationService) Poll(ctx context.Context, jobID string) (model.JobUpdate, error) {
	rec, err := s.getRecord(ctx, jobID)
	if err != nil {
		return model.JobUpdate{}, err
	}
	return rec.Update(), nil
}

// Cancel marks a non-terminal job cancelled and removes or stops its task.
// Returns model.ErrJobNotFound when the record is gone or already terminal.
func (s *GenerationService) Cancel(ctx context.Context, jobID string) error {
	rec, err := s.getRecord(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return model.ErrJobNotFound
	}

	now := time.Now()
	rec.Status = model.JobStatusCancelled
	rec.CompletedAt = &now
	if err := s.saveRecord(ctx, rec); err != nil {
		return err
	}

	if s.inspector != nil {
		if err := s.inspector.DeleteTask(GenerationQueue, jobID); err != nil {
			if cerr := s.inspector.CancelProcessing(jobID); cerr != nil {
				s.log.Debug().Err(cerr).Str("job_id", jobID).Msg("task not cancellable")
			}
		}
	}
	return nil
}

// Updates subscribes to EventsChannel. The returned channel closes when ctx ends.
func (s *GenerationService) Updates(ctx context.Context) (<-chan model.JobUpdate, error) {
	sub := s.redis.Subscribe(ctx, EventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}

	out := make(chan model.JobUpdate)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var u model.JobUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					s.log.Warn().Err(err).Msg("malformed job event")
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// UpdateJobProgress records worker progress. It reports false when the job
// was cancelled and the worker should stop.
func (s *GenerationService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) (bool, error) {
	rec, err := s.getRecord(ctx, jobID)
	if err != nil {
		return false, err
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}

	rec.Progress = progress
	rec.CurrentStep = step
	if rec.Status == model.JobStatusQueued {
		rec.Status = model.JobStatusProcessing
		now := time.Now()
		rec.StartedAt = &now
	}
	return true, s.saveRecord(ctx, rec)
}

// CompleteJob marks the job completed with its result URL unless it was
// already cancelled.
func (s *GenerationService) CompleteJob(ctx context.Context, jobID, resultURL string) error {
	rec, err := s.getRecord(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	rec.Status = model.JobStatusCompleted
	rec.Progress = 100
	rec.ResultURL = resultURL
	rec.CompletedAt = &now
	return s.saveRecord(ctx, rec)
}

// FailJob marks the job failed unless it is already terminal.
func (s *GenerationService) FailJob(ctx context.Context, jobID, errMsg string) error {
	rec, err := s.getRecord(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	rec.Status = model.JobStatusFailed
	rec.Error = &errMsg
	rec.CompletedAt = &now
	return s.saveRecord(ctx, rec)
}

func (s *GenerationService) saveRecord(ctx context.Context, rec *model.QueueRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, jobKey(rec.ID), data, jobTTL).Err(); err != nil {
		return err
	}

	event, err := json.Marshal(rec.Update())
	if err != nil {
		return err
	}
	if err := s.redis.Publish(ctx, EventsChannel, event).Err(); err != nil {
		s.log.Warn().Err(err).Str("job_id", rec.ID).Msg("job event not published")
	}
	return nil
}

func (s *GenerationService) getRecord(ctx context.Context, jobID string) (*model.QueueRecord, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrJobNotFound
		}
		return nil, err
	}

	var rec model.QueueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}
