package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBlobCache_MissReturnsErrCacheMiss(t *testing.T) {
	c := newMemCache(t)

	_, err := c.Get(context.Background(), "missing.json")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("ErrCacheMiss を期待したが %v", err)
	}
}

func TestBlobCache_PutThenGet(t *testing.T) {
	c := newMemCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "all.json", []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, "all.json", []byte(`[{"app_id":1}]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(ctx, "all.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `[{"app_id":1}]` {
		t.Errorf("Get = %s", got)
	}
}

func TestOpenCache_FileBucket(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := OpenCache(ctx, "file://"+filepath.ToSlash(dir))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*BlobCache); !ok {
		t.Fatalf("BlobCache を期待したが %T", c)
	}
	if err := c.Put(ctx, "all.json", []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, err := c.Get(ctx, "all.json"); err != nil || string(got) != "[]" {
		t.Errorf("Get = %s, %v", got, err)
	}
}

func TestOpenCache_EmptyURLIsNop(t *testing.T) {
	c, err := OpenCache(context.Background(), "")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if _, ok := c.(NopCache); !ok {
		t.Fatalf("NopCache を期待したが %T", c)
	}
	if err := c.Put(context.Background(), "k", []byte("x")); err != nil {
		t.Errorf("NopCache.Put: %v", err)
	}
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("NopCacheは常にミスする: %v", err)
	}
}

func TestOpenCache_UnknownScheme(t *testing.T) {
	if _, err := OpenCache(context.Background(), "bogus://bucket"); err == nil {
		t.Error("未知のスキームでエラーを期待")
	}
}
