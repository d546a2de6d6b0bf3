// Package recovery decides which asset belongs to each content item and
// repairs persisted image references that are missing.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/model"
)

const defaultRepairTimeout = 30 * time.Second

// Match says which rule produced a resolution.
type Match string

const (
	MatchPersisted   Match = "persisted"
	MatchStrongID    Match = "strong_id"
	MatchLabel       Match = "label"
	MatchLegacyLabel Match = "legacy_label"
	MatchPending     Match = "pending"
	MatchNone        Match = "none"
)

// Resolution is the asset to show for one item. Asset is nil for pending and none.
type Resolution struct {
	ItemID   string       `json:"itemId,omitempty"`
	Position int          `json:"position"`
	Match    Match        `json:"match"`
	Asset    *model.Asset `json:"asset,omitempty"`
}

// Repairer persists an item's image reference.
type Repairer interface {
	UpdateItemImage(ctx context.Context, ownerID string, kind model.ContentKind, itemID, url string) error
}

// Uploader turns inline data into a durable URL.
type Uploader interface {
	UploadBase64(ctx context.Context, data, mimeType string) (string, error)
}

// CurrentLabel is the source label generated assets carry for a positional slot.
func CurrentLabel(kind model.ContentKind, index int, platform, campaignID string) string {
	return fmt.Sprintf("%s-%d-%s-%s", kind, index, platform, campaignID)
}

// LegacyLabel is the label format used before assets were campaign scoped.
func LegacyLabel(kind model.ContentKind, platform string, index int) string {
	return fmt.Sprintf("%s-%s-%d", kind, platform, index)
}

type Resolver struct {
	store    *assetstore.Store
	inflight *InFlight
	repairer Repairer
	uploader Uploader
	log      zerolog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	repairing map[string]struct{}
	wg        sync.WaitGroup
}

// NewResolver builds a resolver. uploader may be nil, in which case data URIs
// are written back as-is. A nil repairer disables write-back.
func NewResolver(store *assetstore.Store, inflight *InFlight, repairer Repairer, uploader Uploader, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		inflight:  inflight,
		repairer:  repairer,
		uploader:  uploader,
		log:       log.With().Str("component", "recovery").Logger(),
		timeout:   defaultRepairTimeout,
		repairing: make(map[string]struct{}),
	}
}

// Resolve answers, for every item of ownerID, which asset is currently
// associated with it. Only ownerID's assets are considered. Repairs are
// started in the background and never change the returned result.
func (r *Resolver) Resolve(ownerID string, kind model.ContentKind, campaignID string, items []model.ContentItem) []Resolution {
	assets := r.store.ByOwner(ownerID)
	out := make([]Resolution, len(items))

	for i, item := range items {
		if last, ok := r.inflight.Get(SlotKey(kind, item)); ok {
			out[i] = Resolution{ItemID: item.ID, Position: item.Position, Match: MatchPending, Asset: last}
			continue
		}

		res := ResolveItem(kind, campaignID, item, assets)
		out[i] = res

		if res.Asset != nil && item.ID != "" && res.Match != MatchPersisted && r.repairer != nil {
			r.repair(ownerID, kind, item.ID, *res.Asset)
		}
	}
	return out
}

// ResolveItem applies the resolution rules to one item against an asset
// snapshot. It has no side effects.
func ResolveItem(kind model.ContentKind, campaignID string, item model.ContentItem, assets []model.Asset) Resolution {
	res := Resolution{ItemID: item.ID, Position: item.Position, Match: MatchNone}

	if item.ImageURL != "" {
		a := model.NewAsset(item.ID, item.ImageURL, item.ImagePrompt, "", model.MediaTypeImage,
			model.Provenance{OwnerID: item.OwnerID, Kind: kind, ItemID: item.ID, CampaignID: item.CampaignID, Source: string(MatchPersisted)},
			item.UpdatedAt)
		res.Match = MatchPersisted
		res.Asset = &a
		return res
	}

	if item.ID != "" {
		if a, ok := latest(assets, func(a model.Asset) bool { return a.BackRef(kind) == item.ID }); ok {
			res.Match = MatchStrongID
			res.Asset = &a
			return res
		}
	}

	current := CurrentLabel(kind, item.Position, item.Platform, campaignID)
	if a, ok := latest(assets, func(a model.Asset) bool { return a.Source == current }); ok {
		res.Match = MatchLabel
		res.Asset = &a
		return res
	}

	legacy := LegacyLabel(kind, item.Platform, item.Position)
	if a, ok := latest(assets, func(a model.Asset) bool {
		return a.Source == legacy && (a.CampaignID == "" || a.CampaignID == campaignID)
	}); ok {
		res.Match = MatchLegacyLabel
		res.Asset = &a
		return res
	}

	return res
}

// latest returns the most recently added asset matching fn.
func latest(assets []model.Asset, fn func(model.Asset) bool) (model.Asset, bool) {
	for i := len(assets) - 1; i >= 0; i-- {
		if fn(assets[i]) {
			return assets[i], true
		}
	}
	return model.Asset{}, false
}

func (r *Resolver) repair(ownerID string, kind model.ContentKind, itemID string, asset model.Asset) {
	key := ownerID + "/" + string(kind) + ":" + itemID

	r.mu.Lock()
	if _, busy := r.repairing[key]; busy {
		r.mu.Unlock()
		return
	}
	r.repairing[key] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.repairing, key)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.writeBack(ctx, ownerID, kind, itemID, asset); err != nil {
			werr := &model.RecoveryWriteError{Kind: kind, ItemID: itemID, Err: err}
			r.log.Warn().Err(werr).Str("asset_id", asset.ID).Msg("repair write-back failed")
			return
		}
		r.log.Debug().Str("kind", string(kind)).Str("item_id", itemID).Str("asset_id", asset.ID).Msg("image reference repaired")
	}()
}

func (r *Resolver) writeBack(ctx context.Context, ownerID string, kind model.ContentKind, itemID string, asset model.Asset) error {
	url := asset.Src
	if mimeType, data, ok := model.SplitDataURI(url); ok && r.uploader != nil {
		uploaded, err := r.uploader.UploadBase64(ctx, data, mimeType)
		if err != nil {
			return fmt.Errorf("upload inline asset: %w", err)
		}
		if _, err := r.store.ReplaceSrc(asset.ID, uploaded); err != nil {
			r.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("uploaded asset no longer in store")
		}
		url = uploaded
	}
	return r.repairer.UpdateItemImage(ctx, ownerID, kind, itemID, url)
}

// Wait blocks until outstanding repairs finish.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
