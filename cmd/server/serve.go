package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/database"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/recovery"
	"github.com/makeasinger/studio/internal/repository"
	"github.com/makeasinger/studio/internal/scheduler"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/tracker"
	ws "github.com/makeasinger/studio/internal/websocket"
)

var (
	serveWithWorker bool
	serveMigrate    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Starts the HTTP and websocket API together with the job tracker and the publish scheduler.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", true, "Run the generation worker in the same process")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply database migrations before starting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	redisClient := newRedis(cfg)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable, generation and rate limits will be degraded")
	}

	asynqClient := asynq.NewClient(redisOpt(cfg))
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt(cfg))
	defer inspector.Close()

	// Database
	db, err := database.Connect(ctx, cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if serveMigrate {
		if err := database.Migrate(db, log); err != nil {
			return err
		}
	}

	contentRepo := repository.NewContentRepository(db)
	postRepo := repository.NewScheduledPostRepository(db)

	// Services
	blob := newBlobService(cfg, log)
	renderer := newRenderer(cfg, log, blob)
	genService := service.NewGenerationService(redisClient, asynqClient, inspector, log)

	hub := ws.NewHub(log)
	store := assetstore.New()
	inflight := recovery.NewInFlight()

	jobTracker := tracker.New(genService, genService, store, hub, log, tracker.Options{
		PollInterval: cfg.Tracker.PollInterval,
		HistorySize:  cfg.Tracker.HistorySize,
	})
	wireTrackerEvents(jobTracker, inflight, contentRepo, log)

	direct := service.NewDirectService(renderer, store, contentRepo, log)
	resolver := recovery.NewResolver(store, inflight, contentRepo, blob, log)
	defer resolver.Wait()

	instagram := client.NewInstagramClient(&cfg.Instagram, log)
	publisher := scheduler.New(postRepo, instagram, blob, hub, log, scheduler.Options{
		CheckInterval:      cfg.Scheduler.CheckInterval,
		DueWindow:          cfg.Scheduler.DueWindow,
		BulkDelay:          cfg.Scheduler.BulkDelay,
		StatusPollInterval: cfg.Instagram.StatusPollInterval,
		StatusPollAttempts: cfg.Instagram.StatusPollAttempts,
	})

	// Handlers
	validate := validator.New()
	handlers := handler.Handlers{
		Generation: handler.NewGenerationHandler(jobTracker, direct, inflight, validate, log),
		Content:    handler.NewContentHandler(contentRepo, resolver, store, validate),
		Schedule:   handler.NewScheduleHandler(publisher, validate),
		Hub:        hub,
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Register(app, handlers, authMiddleware, rateLimiter, handler.Limits{
		GeneratePerHour: cfg.RateLimit.GeneratePerHour,
		PublishPerHour:  cfg.RateLimit.PublishPerHour,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return jobTracker.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })

	if serveWithWorker {
		srv, mux := newWorkerServer(cfg, log, genService, renderer)
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			srv.Shutdown()
			return nil
		})
		log.Info().Msg("generation worker started")
	}

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("server starting")
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// wireTrackerEvents frees in-flight slots when a job ends and writes the
// finished image back to the content item the job was submitted for.
func wireTrackerEvents(t *tracker.Tracker, inflight *recovery.InFlight, content service.ContentWriter, log zerolog.Logger) {
	t.SubscribeFailed(func(ev tracker.Event) {
		inflight.Clear(ev.Job.Context)
	})
	t.SubscribeCompleted(func(ev tracker.Event) {
		inflight.Clear(ev.Job.Context)

		slot, err := ev.Slot()
		if err != nil || slot.ItemID == "" || ev.Asset == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		kind := model.ContentKind(slot.Kind)
		if err := content.UpdateItemImage(ctx, ev.Job.OwnerID, kind, slot.ItemID, ev.Asset.Src); err != nil {
			werr := &model.RecoveryWriteError{Kind: kind, ItemID: slot.ItemID, Err: err}
			log.Warn().Err(werr).Str("job_id", ev.Job.ID).Msg("image reference not saved")
		}
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
