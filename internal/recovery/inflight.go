package recovery

import (
	"sync"

	"github.com/makeasinger/studio/internal/model"
)

// InFlight is the set of items whose asset is currently being (re)generated.
// Keys are slot context tokens, see SlotKey.
type InFlight struct {
	mu    sync.RWMutex
	items map[string]*model.Asset
}

func NewInFlight() *InFlight {
	return &InFlight{items: make(map[string]*model.Asset)}
}

// Mark records key as generating. last is the value to keep showing meanwhile;
// nil means pending.
func (f *InFlight) Mark(key string, last *model.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if last != nil {
		c := *last
		last = &c
	}
	f.items[key] = last
}

func (f *InFlight) Clear(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
}

// Get returns the transient value for key and whether key is in flight.
func (f *InFlight) Get(key string) (*model.Asset, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	last, ok := f.items[key]
	if ok && last != nil {
		c := *last
		return &c, true
	}
	return nil, ok
}

func (f *InFlight) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Keys returns all in-flight keys.
func (f *InFlight) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.items))
	for k := range f.items {
		out = append(out, k)
	}
	return out
}

// SlotKey is the in-flight key for an item: its id when it has one, its
// position otherwise. It matches the context token a generation job carries.
func SlotKey(kind model.ContentKind, item model.ContentItem) string {
	ref := model.SlotRef{Kind: string(kind), Index: item.Position, ItemID: item.ID}
	return ref.String()
}
