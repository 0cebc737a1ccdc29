// Package snapshot は結合済みゲーム一覧のスナップショット生成と配信キャッシュを提供する。
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrCacheMiss はキャッシュにキーが存在しないことを示す。
var ErrCacheMiss = errors.New("snapshot: cache miss")

// Cache はスナップショットの配信キャッシュ。
type Cache interface {
	// Get はキーに対応するデータを返す。存在しない場合はErrCacheMissを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Put はキーにデータを書き込む。書き込みが完了するまで読み手には旧データが見える。
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

const jsonContentType = "application/json; charset=utf-8"

// BlobCache はgocloud.dev/blobのバケットを使用するキャッシュ。
type BlobCache struct {
	bucket *blob.Bucket
}

// OpenBlobCache はURL（file://, mem://, s3://）からバケットを開く。
func OpenBlobCache(ctx context.Context, bucketURL string) (*BlobCache, error) {
	bk, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("バケットのオープンに失敗しました: %w", err)
	}
	return &BlobCache{bucket: bk}, nil
}

// NewBlobCache は開いたバケットからBlobCacheを生成する。
func NewBlobCache(bucket *blob.Bucket) *BlobCache {
	return &BlobCache{bucket: bucket}
}

func (c *BlobCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("キャッシュの読み込みに失敗しました: %w", err)
	}
	return data, nil
}

// Put はWriterのCloseが成功した時点で内容を公開する。途中で失敗した場合は旧データが残る。
func (c *BlobCache) Put(ctx context.Context, key string, data []byte) error {
	if err := c.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: jsonContentType}); err != nil {
		return fmt.Errorf("キャッシュへの書き込みに失敗しました: %w", err)
	}
	return nil
}

func (c *BlobCache) Close() error {
	return c.bucket.Close()
}

// NopCache は常にミスし、書き込みを破棄するキャッシュ。
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }
func (NopCache) Put(context.Context, string, []byte) error   { return nil }
func (NopCache) Close() error                                { return nil }

// OpenCache はURLが空の場合NopCacheを、それ以外はBlobCacheを返す。
func OpenCache(ctx context.Context, bucketURL string) (Cache, error) {
	if bucketURL == "" {
		return NopCache{}, nil
	}
	return OpenBlobCache(ctx, bucketURL)
}
