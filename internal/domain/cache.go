package domain

import "context"

// CacheStorage は名前付きキャッシュの集合 (Cache Store) のインターフェース.
type CacheStorage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	// Match は全キャッシュを名前順に検索する.
	Match(ctx context.Context, req *Request) (*Response, bool, error)
}

// Cache は単一の名前付きキャッシュのインターフェース.
type Cache interface {
	Name() string
	Match(ctx context.Context, req *Request) (*Response, bool, error)
	Put(ctx context.Context, req *Request, resp *Response) error
	// PutAll は全エントリを一括で保存し, 失敗時は何も保存しない.
	PutAll(ctx context.Context, entries []CacheEntry) error
	Delete(ctx context.Context, req *Request) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// CacheEntry はキャッシュに保存するリクエストとレスポンスの組.
type CacheEntry struct {
	Request  *Request
	Response *Response
}

// CacheBackend は名前付きバケットのバイト列ストア.
type CacheBackend interface {
	CreateBucket(ctx context.Context, bucket string) error
	HasBucket(ctx context.Context, bucket string) (bool, error)
	Buckets(ctx context.Context) ([]string, error)
	DeleteBucket(ctx context.Context, bucket string) (bool, error)
	Get(ctx context.Context, bucket, key string) ([]byte, bool, error)
	PutBatch(ctx context.Context, bucket string, items map[string][]byte) error
	Delete(ctx context.Context, bucket, key string) (bool, error)
	Keys(ctx context.Context, bucket string) ([]string, error)
	Close() error
}
