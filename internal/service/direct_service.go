package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/model"
)

// ContentWriter persists an item's image reference.
type ContentWriter interface {
	UpdateItemImage(ctx context.Context, ownerID string, kind model.ContentKind, itemID, url string) error
}

// DirectService generates synchronously, bypassing the queue. Assets are
// stamped with the same provenance scheme the tracker uses.
type DirectService struct {
	renderer *ImageRenderer
	store    *assetstore.Store
	content  ContentWriter
	log      zerolog.Logger
	now      func() time.Time
}

func NewDirectService(renderer *ImageRenderer, store *assetstore.Store, content ContentWriter, log zerolog.Logger) *DirectService {
	return &DirectService{
		renderer: renderer,
		store:    store,
		content:  content,
		log:      log.With().Str("component", "direct_generation").Logger(),
		now:      time.Now,
	}
}

// Generate renders req, adds the asset to the store and writes the URL back
// to the content item named by the provenance.
func (s *DirectService) Generate(ctx context.Context, req model.SubmitRequest) (model.Asset, error) {
	url, err := s.renderer.Render(ctx, req.JobType, req.Prompt, req.Config, nil)
	if err != nil {
		return model.Asset{}, fmt.Errorf("direct generation: %w", err)
	}

	provenance := req.Provenance
	provenance.OwnerID = req.OwnerID
	asset := model.NewAsset(uuid.New().String(), url, req.Prompt, req.Config.Model,
		model.MediaTypeFor(req.JobType), provenance, s.now())
	asset, err = s.store.Add(asset)
	if err != nil {
		return model.Asset{}, err
	}

	if req.Provenance.ItemID != "" && s.content != nil {
		if err := s.content.UpdateItemImage(ctx, req.OwnerID, req.Provenance.Kind, req.Provenance.ItemID, url); err != nil {
			werr := &model.RecoveryWriteError{Kind: req.Provenance.Kind, ItemID: req.Provenance.ItemID, Err: err}
			s.log.Warn().Err(werr).Str("asset_id", asset.ID).Msg("image reference not saved")
		}
	}

	s.log.Info().Str("asset_id", asset.ID).Str("context", req.Context).Msg("direct generation completed")
	return asset, nil
}
