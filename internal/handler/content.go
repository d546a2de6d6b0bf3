package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/recovery"
	"github.com/makeasinger/studio/pkg/response"
)

// ContentLister loads a campaign's items of one kind.
type ContentLister interface {
	ListByCampaign(ctx context.Context, ownerID string, kind model.ContentKind, campaignID string) ([]model.ContentItem, error)
}

type ContentHandler struct {
	content   ContentLister
	resolver  *recovery.Resolver
	store     *assetstore.Store
	validator *validator.Validate
}

func NewContentHandler(content ContentLister, resolver *recovery.Resolver, store *assetstore.Store, v *validator.Validate) *ContentHandler {
	return &ContentHandler{content: content, resolver: resolver, store: store, validator: v}
}

// Resolve handles POST /api/content/:kind/resolve
func (h *ContentHandler) Resolve(c *fiber.Ctx) error {
	kind, ok := model.ParseContentKind(c.Params("kind"))
	if !ok {
		return response.ValidationError(c, "Unknown content kind", fiber.Map{"kind": "oneof"})
	}

	var req model.ResolveContentRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	owner := ownerID(c)
	items := req.Items
	if len(items) == 0 && h.content != nil {
		var err error
		items, err = h.content.ListByCampaign(c.UserContext(), owner, kind, req.CampaignID)
		if err != nil {
			return response.FromError(c, err)
		}
	}
	for i := range items {
		items[i].OwnerID = owner
	}

	resolutions := h.resolver.Resolve(owner, kind, req.CampaignID, items)
	return response.OK(c, fiber.Map{"kind": kind, "campaignId": req.CampaignID, "items": resolutions})
}

// Assets handles GET /api/assets. Only the caller's assets are listed.
func (h *ContentHandler) Assets(c *fiber.Ctx) error {
	owner := ownerID(c)
	var assets []model.Asset
	if campaignID := c.Query("campaignId"); campaignID != "" {
		assets = h.store.ByCampaign(owner, campaignID)
	} else {
		assets = h.store.ByOwner(owner)
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	return response.OK(c, fiber.Map{"assets": assets})
}
