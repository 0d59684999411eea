// Package cache memoizes per-entity worker payloads so many workers
// sharing one entity do not reload its blob from the database.
package cache

import (
	"context"
	"fmt"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

// Cache maps entity ids to worker payload bytes, one map per entity kind.
// Eviction is explicit: callers evict on every entity update or removal.
// The cache is unbounded; entities are few and payloads are kilobytes to
// megabytes.
//
// Not safe for concurrent use. The daemon's serialized command loop is the
// only caller.
type Cache struct {
	store    storage.Store
	avatars  map[int64][]byte
	ics      map[int64][]byte
	requests map[int64][]byte
}

// New returns an empty cache backed by store.
func New(store storage.Store) *Cache {
	return &Cache{
		store:    store,
		avatars:  make(map[int64][]byte),
		ics:      make(map[int64][]byte),
		requests: make(map[int64][]byte),
	}
}

// Avatar returns the avatar payload: photo bytes concatenated with the
// UTF-8 encoding of the info text.
func (c *Cache) Avatar(ctx context.Context, id int64) ([]byte, error) {
	if b, ok := c.avatars[id]; ok {
		return b, nil
	}
	a, err := c.store.GetAvatar(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("avatar %d: %w", id, err)
	}
	b := make([]byte, 0, len(a.PhotoData)+len(a.InfoData))
	b = append(b, a.PhotoData...)
	b = append(b, a.InfoData...)
	c.avatars[id] = b
	return b, nil
}

// IC returns the information copy's raw payload.
func (c *Cache) IC(ctx context.Context, id int64) ([]byte, error) {
	if b, ok := c.ics[id]; ok {
		return b, nil
	}
	ic, err := c.store.GetIC(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("information copy %d: %w", id, err)
	}
	c.ics[id] = ic.WavData
	return ic.WavData, nil
}

// Request returns the UTF-8 encoding of the request text.
func (c *Cache) Request(ctx context.Context, id int64) ([]byte, error) {
	if b, ok := c.requests[id]; ok {
		return b, nil
	}
	r, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", id, err)
	}
	b := []byte(r.RequestData)
	c.requests[id] = b
	return b, nil
}

// Evict drops the cached payload for one entity.
func (c *Cache) Evict(kind types.EntityKind, id int64) {
	switch kind {
	case types.EntityAvatar:
		delete(c.avatars, id)
	case types.EntityIC:
		delete(c.ics, id)
	case types.EntityRequest:
		delete(c.requests, id)
	}
}

// Len reports the number of cached payloads across all kinds.
func (c *Cache) Len() int {
	return len(c.avatars) + len(c.ics) + len(c.requests)
}
