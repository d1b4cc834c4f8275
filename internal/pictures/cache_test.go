package pictures

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	pictures map[string]Picture
	loadErr  error
	saveErr  error
	loads    int
}

func (s *stubStore) Load(_ context.Context, username string) (Picture, error) {
	s.loads++
	if s.loadErr != nil {
		return Picture{}, s.loadErr
	}
	picture, ok := s.pictures[username]
	if !ok {
		return Picture{}, ErrNotFound
	}
	return picture, nil
}

func (s *stubStore) Save(_ context.Context, username string, picture Picture) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.pictures == nil {
		s.pictures = make(map[string]Picture)
	}
	s.pictures[username] = picture
	return nil
}

func TestCachingStoreLoad(t *testing.T) {
	base := &stubStore{pictures: map[string]Picture{"alice": {Data: []byte("png"), ContentType: "image/png"}}}
	cache := NewCachingStore(base, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		picture, err := cache.Load(ctx, "alice")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if string(picture.Data) != "png" {
			t.Fatalf("unexpected picture: %+v", picture)
		}
	}
	if base.loads != 1 {
		t.Fatalf("expected base called once got %d", base.loads)
	}
}

func TestCachingStoreCachesMisses(t *testing.T) {
	base := &stubStore{}
	cache := NewCachingStore(base, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := cache.Load(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound got %v", err)
		}
	}
	if base.loads != 1 {
		t.Fatalf("expected a single backend lookup got %d", base.loads)
	}
}

func TestCachingStoreExpiry(t *testing.T) {
	base := &stubStore{pictures: map[string]Picture{"alice": {Data: []byte("png")}}}
	cache := NewCachingStore(base, time.Minute)

	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if _, err := cache.Load(context.Background(), "alice"); err != nil {
		t.Fatalf("load: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.Load(context.Background(), "alice"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if base.loads != 2 {
		t.Fatalf("expected cache miss after expiry got %d loads", base.loads)
	}
}

func TestCachingStoreSaveRefreshesEntry(t *testing.T) {
	base := &stubStore{}
	cache := NewCachingStore(base, time.Minute)

	if _, err := cache.Load(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if err := cache.Save(context.Background(), "alice", Picture{Data: []byte("new")}); err != nil {
		t.Fatalf("save: %v", err)
	}

	picture, err := cache.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(picture.Data) != "new" {
		t.Fatalf("expected refreshed picture got %q", picture.Data)
	}
	if base.loads != 1 {
		t.Fatalf("expected save to populate cache, got %d loads", base.loads)
	}
}

func TestCachingStoreUnavailable(t *testing.T) {
	var cache *CachingStore
	if _, err := cache.Load(context.Background(), "alice"); err == nil {
		t.Fatal("expected error for nil cache")
	}

	cache = NewCachingStore(nil, 0)
	if cache.ttl <= 0 {
		t.Fatalf("expected ttl to default positive got %v", cache.ttl)
	}
	if err := cache.Save(context.Background(), "alice", Picture{}); err == nil {
		t.Fatal("expected error without base store")
	}
}
