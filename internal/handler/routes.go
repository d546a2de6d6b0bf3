package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
	ws "github.com/makeasinger/studio/internal/websocket"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Generation *GenerationHandler
	Content    *ContentHandler
	Schedule   *ScheduleHandler
	Hub        *ws.Hub
}

// Limits are the per-owner hourly limits for the expensive routes.
type Limits struct {
	GeneratePerHour int
	PublishPerHour  int
}

// Register mounts the API, health and websocket routes. rl may be nil.
func Register(app *fiber.App, h Handlers, auth *middleware.AuthMiddleware, rl *middleware.RateLimiter, limits Limits) {
	generateLimit, publishLimit := passThrough, passThrough
	if rl != nil {
		generateLimit = rl.GenerateLimit(limits.GeneratePerHour)
		publishLimit = rl.PublishLimit(limits.PublishPerHour)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", auth.Authenticate())

	gen := api.Group("/generation")
	gen.Post("/jobs", generateLimit, h.Generation.Submit)
	gen.Get("/jobs", h.Generation.List)
	gen.Delete("/jobs", h.Generation.CancelAll)
	gen.Delete("/jobs/:jobId", h.Generation.Cancel)

	api.Get("/assets", h.Content.Assets)
	api.Post("/content/:kind/resolve", h.Content.Resolve)

	sched := api.Group("/schedule")
	sched.Post("/", h.Schedule.Create)
	sched.Get("/", h.Schedule.List)
	sched.Get("/due", h.Schedule.Due)
	sched.Post("/publish", publishLimit, h.Schedule.PublishBulk)
	sched.Get("/:id", h.Schedule.Get)
	sched.Patch("/:id", h.Schedule.Edit)
	sched.Delete("/:id", h.Schedule.Delete)
	sched.Put("/:id/time", h.Schedule.Reschedule)
	sched.Post("/:id/cancel", h.Schedule.Cancel)
	sched.Post("/:id/publish", publishLimit, h.Schedule.Publish)
	sched.Get("/:id/publish-state", h.Schedule.PublishState)

	if h.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", auth.Authenticate(), websocket.New(func(c *websocket.Conn) {
			owner, _ := c.Locals("userId").(string)
			h.Hub.HandleConnection(c, owner)
		}))
	}
}

func passThrough(c *fiber.Ctx) error { return c.Next() }
