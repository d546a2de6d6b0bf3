package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/scheduler"
	"github.com/makeasinger/studio/pkg/response"
)

type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	validator *validator.Validate
}

func NewScheduleHandler(s *scheduler.Scheduler, v *validator.Validate) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s, validator: v}
}

// Create handles POST /api/schedule
func (h *ScheduleHandler) Create(c *fiber.Ctx) error {
	var req model.CreateScheduledPostRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	post, err := h.scheduler.Create(c.UserContext(), ownerID(c), scheduler.CreateInput{
		ContentID:            req.ContentID,
		ImageURL:             req.ImageURL,
		CarouselImageURLs:    req.CarouselImageURLs,
		Caption:              req.Caption,
		Hashtags:             req.Hashtags,
		ScheduledDate:        req.ScheduledDate,
		ScheduledTime:        req.ScheduledTime,
		Timezone:             req.Timezone,
		Platforms:            req.Platforms,
		InstagramContentType: req.InstagramContentType,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, post)
}

// List handles GET /api/schedule?status=
func (h *ScheduleHandler) List(c *fiber.Ctx) error {
	status := model.PostStatus(c.Query("status"))
	posts, err := h.scheduler.List(c.UserContext(), ownerID(c), status)
	if err != nil {
		return response.FromError(c, err)
	}
	if posts == nil {
		posts = []*model.ScheduledPost{}
	}
	return response.OK(c, fiber.Map{"posts": posts})
}

// Get handles GET /api/schedule/:id
func (h *ScheduleHandler) Get(c *fiber.Ctx) error {
	post, err := h.scheduler.Get(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, post)
}

// Edit handles PATCH /api/schedule/:id
func (h *ScheduleHandler) Edit(c *fiber.Ctx) error {
	var req model.EditScheduledPostRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	post, err := h.scheduler.Edit(c.UserContext(), ownerID(c), c.Params("id"), scheduler.EditInput{
		Caption:              req.Caption,
		Hashtags:             req.Hashtags,
		ImageURL:             req.ImageURL,
		CarouselImageURLs:    req.CarouselImageURLs,
		InstagramContentType: req.InstagramContentType,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, post)
}

// Reschedule handles PUT /api/schedule/:id/time
func (h *ScheduleHandler) Reschedule(c *fiber.Ctx) error {
	var req model.RescheduleRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	post, err := h.scheduler.Reschedule(c.UserContext(), ownerID(c), c.Params("id"),
		req.ScheduledDate, req.ScheduledTime, req.Timezone)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, post)
}

// Cancel handles POST /api/schedule/:id/cancel
func (h *ScheduleHandler) Cancel(c *fiber.Ctx) error {
	post, err := h.scheduler.Cancel(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, post)
}

// Delete handles DELETE /api/schedule/:id
func (h *ScheduleHandler) Delete(c *fiber.Ctx) error {
	if err := h.scheduler.Delete(c.UserContext(), ownerID(c), c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Publish handles POST /api/schedule/:id/publish
func (h *ScheduleHandler) Publish(c *fiber.Ctx) error {
	post, err := h.scheduler.Execute(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, post)
}

// PublishBulk handles POST /api/schedule/publish
func (h *ScheduleHandler) PublishBulk(c *fiber.Ctx) error {
	var req model.BulkPublishRequest
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, h.validator, &req); !ok {
			return err
		}
	}

	results, err := h.scheduler.ExecuteBulk(c.UserContext(), ownerID(c), req.PostIDs)
	if err != nil {
		return response.FromError(c, err)
	}
	if results == nil {
		results = []scheduler.BulkItem{}
	}
	return response.OK(c, fiber.Map{"results": results})
}

// Due handles GET /api/schedule/due
func (h *ScheduleHandler) Due(c *fiber.Ctx) error {
	due, err := h.scheduler.Due(c.UserContext(), ownerID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	if due == nil {
		due = []scheduler.DuePost{}
	}
	return response.OK(c, fiber.Map{"posts": due})
}

// PublishState handles GET /api/schedule/:id/publish-state
func (h *ScheduleHandler) PublishState(c *fiber.Ctx) error {
	st, err := h.scheduler.PublishState(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, st)
}
