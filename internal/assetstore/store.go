// Package assetstore holds the session's generated assets. It is the only
// writer of asset records; the job tracker and the direct generation path both
// add through it.
package assetstore

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/makeasinger/studio/internal/model"
)

var ErrDuplicateID = errors.New("asset id already exists")

// Store is an append-oriented, in-memory asset collection. Assets are never
// deleted; a data URI may be replaced in place by its durable URL.
type Store struct {
	mu     sync.RWMutex
	assets []model.Asset
	index  map[string]int
}

func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Add appends an asset, assigning an id when empty. Ids are unique within the store.
func (s *Store) Add(a model.Asset) (model.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[a.ID]; ok {
		return model.Asset{}, ErrDuplicateID
	}
	s.index[a.ID] = len(s.assets)
	s.assets = append(s.assets, a)
	return a, nil
}

// ReplaceSrc swaps the src of an existing asset, keeping its identity.
func (s *Store) ReplaceSrc(id, src string) (model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return model.Asset{}, model.ErrNotFound
	}
	s.assets[i].Src = src
	return s.assets[i], nil
}

// Get returns the asset with the given id.
func (s *Store) Get(id string) (model.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Asset{}, false
	}
	return s.assets[i], true
}

// Snapshot returns a copy of all assets in insertion order.
func (s *Store) Snapshot() []model.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

// ByOwner returns ownerID's assets in insertion order.
func (s *Store) ByOwner(ownerID string) []model.Asset {
	return s.filter(func(a model.Asset) bool { return a.OwnerID == ownerID })
}

// ByCampaign returns ownerID's assets tagged with campaignID, in insertion order.
func (s *Store) ByCampaign(ownerID, campaignID string) []model.Asset {
	return s.filter(func(a model.Asset) bool {
		return a.OwnerID == ownerID && a.CampaignID == campaignID
	})
}

func (s *Store) filter(keep func(model.Asset) bool) []model.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Asset
	for _, a := range s.assets {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of stored assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}
