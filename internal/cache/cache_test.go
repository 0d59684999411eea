package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/storage/sqlite"
	"github.com/untoldecay/healer/internal/types"
)

func setupCache(t *testing.T) (*Cache, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "healer.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestAvatarPayloadConcatenatesPhotoAndInfo(t *testing.T) {
	c, store := setupCache(t)
	ctx := context.Background()

	a, err := store.CreateAvatar(ctx, "alice", []byte("PHOTO"), "info")
	if err != nil {
		t.Fatal(err)
	}

	b, err := c.Avatar(ctx, a.ID)
	if err != nil {
		t.Fatalf("Avatar: %v", err)
	}
	if string(b) != "PHOTOinfo" {
		t.Errorf("payload = %q, want photo bytes then info text", b)
	}
	if c.Len() != 1 {
		t.Errorf("cache size = %d, want 1", c.Len())
	}
}

func TestCacheServesStaleBytesUntilEvicted(t *testing.T) {
	c, store := setupCache(t)
	ctx := context.Background()

	r, err := store.CreateRequest(ctx, "ask", "old")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Request(ctx, r.ID); err != nil {
		t.Fatal(err)
	}

	text := "new"
	if _, err := store.UpdateEntity(ctx, types.EntityRequest, r.ID, storage.EntityUpdate{Text: &text}); err != nil {
		t.Fatal(err)
	}

	b, err := c.Request(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "old" {
		t.Errorf("cache reloaded without eviction: %q", b)
	}

	c.Evict(types.EntityRequest, r.ID)
	b, err = c.Request(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "new" {
		t.Errorf("post-eviction payload = %q, want %q", b, "new")
	}
}

func TestMissingEntityIsAnError(t *testing.T) {
	c, _ := setupCache(t)
	if _, err := c.IC(context.Background(), 404); err == nil {
		t.Error("missing information copy must error, not cache")
	}
	if c.Len() != 0 {
		t.Errorf("failed lookup cached something: %d", c.Len())
	}
}
