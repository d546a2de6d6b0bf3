package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/logging"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/worker"
)

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.New(cfg.Server.Env, cfg.Server.LogLevel), nil
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newBlobService uses R2 when configured and mock URLs otherwise.
func newBlobService(cfg *config.Config, log zerolog.Logger) *service.BlobService {
	var storage client.StorageClient
	r2, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		log.Warn().Err(err).Msg("R2 not configured, using mock storage URLs")
	} else {
		storage = r2
	}
	return service.NewBlobService(storage)
}

func newRenderer(cfg *config.Config, log zerolog.Logger, blob *service.BlobService) *service.ImageRenderer {
	images := client.NewImageClient(&cfg.ImageGen, log)
	if !images.IsConfigured() {
		log.Warn().Msg("image provider not configured, generation uses mock results")
	}
	return service.NewImageRenderer(images, blob, cfg.ImageGen.PollInterval, cfg.ImageGen.MaxWait)
}

func newWorkerServer(cfg *config.Config, log zerolog.Logger, jobs worker.JobStore, renderer worker.Renderer) (*asynq.Server, *asynq.ServeMux) {
	wlog := logging.Component(log, "asynq")
	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			service.GenerationQueue: 1,
		},
		Logger:   asynqLogger{wlog},
		LogLevel: asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			wlog.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, worker.NewGenerationWorker(jobs, renderer, log).ProcessTask)
	return srv, mux
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
