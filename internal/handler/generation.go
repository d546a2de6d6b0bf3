package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/recovery"
	"github.com/makeasinger/studio/internal/tracker"
	"github.com/makeasinger/studio/pkg/response"
)

// DirectGenerator produces an asset synchronously.
type DirectGenerator interface {
	Generate(ctx context.Context, req model.SubmitRequest) (model.Asset, error)
}

type GenerationHandler struct {
	tracker   *tracker.Tracker
	direct    DirectGenerator
	inflight  *recovery.InFlight
	validator *validator.Validate
	log       zerolog.Logger
}

func NewGenerationHandler(t *tracker.Tracker, direct DirectGenerator, inflight *recovery.InFlight, v *validator.Validate, log zerolog.Logger) *GenerationHandler {
	return &GenerationHandler{
		tracker:   t,
		direct:    direct,
		inflight:  inflight,
		validator: v,
		log:       log.With().Str("component", "generation_handler").Logger(),
	}
}

// Submit handles POST /api/generation/jobs
func (h *GenerationHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitGenerationRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	owner := ownerID(c)
	submit := model.SubmitRequest{
		OwnerID: owner,
		JobType: req.JobType,
		Prompt:  req.Prompt,
		Config:  req.Config,
	}

	var slot string
	if req.Kind != "" {
		slot = recovery.SlotKey(req.Kind, model.ContentItem{ID: req.ItemID, Position: req.Position})
		submit.Context = slot
		submit.Provenance = model.Provenance{
			Kind:       req.Kind,
			ItemID:     req.ItemID,
			CampaignID: req.CampaignID,
			Source:     recovery.CurrentLabel(req.Kind, req.Position, req.Platform, req.CampaignID),
		}
		h.inflight.Mark(slot, nil)
	}

	jobID, err := h.tracker.Submit(c.UserContext(), submit)
	if err == nil {
		return response.Accepted(c, model.SubmitGenerationResponse{JobID: jobID, Context: slot})
	}

	var subErr *model.SubmissionError
	if !req.Fallback || h.direct == nil || !errors.As(err, &subErr) {
		h.clear(slot)
		return response.FromError(c, err)
	}

	h.log.Warn().Err(err).Str("owner_id", owner).Msg("queue unavailable, generating directly")
	asset, err := h.direct.Generate(c.UserContext(), submit)
	h.clear(slot)
	if err != nil {
		h.log.Error().Err(err).Str("owner_id", owner).Msg("direct generation failed")
		return response.UpstreamError(c, "Generation failed")
	}
	return response.Created(c, model.SubmitGenerationResponse{Context: slot, Direct: true, Asset: &asset})
}

// Cancel handles DELETE /api/generation/jobs/:jobId. Unknown jobs are a no-op.
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, err := h.tracker.Snapshot(c.UserContext(), ownerID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	for _, job := range snap.Active {
		if job.ID != jobID {
			continue
		}
		if err := h.tracker.Cancel(c.UserContext(), jobID); err != nil {
			return response.FromError(c, err)
		}
		h.clear(job.Context)
		break
	}
	return response.NoContent(c)
}

// CancelAll handles DELETE /api/generation/jobs
func (h *GenerationHandler) CancelAll(c *fiber.Ctx) error {
	owner := ownerID(c)
	snap, err := h.tracker.Snapshot(c.UserContext(), owner)
	if err != nil {
		return response.FromError(c, err)
	}

	n, err := h.tracker.CancelAll(c.UserContext(), owner)
	if err != nil {
		return response.FromError(c, err)
	}
	for _, job := range snap.Active {
		h.clear(job.Context)
	}
	return response.OK(c, fiber.Map{"cancelled": n})
}

// List handles GET /api/generation/jobs
func (h *GenerationHandler) List(c *fiber.Ctx) error {
	snap, err := h.tracker.Snapshot(c.UserContext(), ownerID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	if snap.Active == nil {
		snap.Active = []model.GenerationJob{}
	}
	if snap.Recent == nil {
		snap.Recent = []model.GenerationJob{}
	}
	return response.OK(c, snap)
}

func (h *GenerationHandler) clear(slot string) {
	if slot != "" {
		h.inflight.Clear(slot)
	}
}
