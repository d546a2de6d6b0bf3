package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/service"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the generation worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := newRedis(cfg)
	defer redisClient.Close()

	// The worker only writes job records, so it needs neither a client nor an inspector.
	jobs := service.NewGenerationService(redisClient, nil, nil, log)
	renderer := newRenderer(cfg, log, newBlobService(cfg, log))

	srv, mux := newWorkerServer(cfg, log, jobs, renderer)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	log.Info().Msg("generation worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down worker")
	srv.Shutdown()
	return nil
}
