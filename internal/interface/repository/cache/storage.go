package cache

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"swproxy/internal/domain"
)

// Storage はバックエンド上に名前付きキャッシュを提供する
type Storage struct {
	backend domain.CacheBackend
}

// Verify interface implementation
var _ domain.CacheStorage = (*Storage)(nil)

// NewStorage は新しいStorageインスタンスを作成
func NewStorage(backend domain.CacheBackend) *Storage {
	return &Storage{backend: backend}
}

// Open は名前付きキャッシュを開く (存在しなければ作成)
func (s *Storage) Open(ctx context.Context, name string) (domain.Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("cache name is required")
	}
	if err := s.backend.CreateBucket(ctx, name); err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &namedCache{name: name, backend: s.backend}, nil
}

// Has はキャッシュが存在するか確認
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	return s.backend.HasBucket(ctx, name)
}

// Keys は全キャッシュ名を返す
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	return s.backend.Buckets(ctx)
}

// Delete はキャッシュを削除
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.backend.DeleteBucket(ctx, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	return deleted, nil
}

// Match は全キャッシュからリクエストに一致するレスポンスを探す
func (s *Storage) Match(ctx context.Context, req *domain.Request) (*domain.Response, bool, error) {
	names, err := s.backend.Buckets(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		c := &namedCache{name: name, backend: s.backend}
		resp, ok, err := c.Match(ctx, req)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

type namedCache struct {
	name    string
	backend domain.CacheBackend
}

func (c *namedCache) Name() string {
	return c.name
}

func (c *namedCache) Match(ctx context.Context, req *domain.Request) (*domain.Response, bool, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, false, nil
	}
	// HEAD は GET のエントリで応答する
	data, ok, err := c.backend.Get(ctx, c.name, domain.RequestKey(http.MethodGet, req.URL))
	if err != nil {
		return nil, false, fmt.Errorf("match %s in %q: %w", req.URL, c.name, err)
	}
	if !ok {
		return nil, false, nil
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", req.URL, err)
	}
	if !entry.MatchesVary(req) {
		return nil, false, nil
	}

	resp := entry.Response()
	if req.Method == http.MethodHead {
		resp.Body = nil
	}
	return resp, true, nil
}

func (c *namedCache) Put(ctx context.Context, req *domain.Request, resp *domain.Response) error {
	return c.PutAll(ctx, []domain.CacheEntry{{Request: req, Response: resp}})
}

func (c *namedCache) PutAll(ctx context.Context, entries []domain.CacheEntry) error {
	items := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if err := validatePut(e.Request, e.Response); err != nil {
			return err
		}
		data, err := encodeEntry(NewEntry(e.Request, e.Response))
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.Request.URL, err)
		}
		items[e.Request.Key()] = data
	}
	if len(items) == 0 {
		return nil
	}
	if err := c.backend.PutBatch(ctx, c.name, items); err != nil {
		return fmt.Errorf("put into %q: %w", c.name, err)
	}
	return nil
}

func (c *namedCache) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	return c.backend.Delete(ctx, c.name, domain.RequestKey(http.MethodGet, req.URL))
}

func (c *namedCache) Keys(ctx context.Context) ([]string, error) {
	return c.backend.Keys(ctx, c.name)
}

func validatePut(req *domain.Request, resp *domain.Response) error {
	if req == nil || req.URL == nil {
		return fmt.Errorf("request is required")
	}
	if req.Method != http.MethodGet {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, domain.ErrUnsupportedMethod)
	}
	if resp == nil {
		return fmt.Errorf("response for %s is required", req.URL)
	}
	if resp.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("partial response for %s cannot be cached", req.URL)
	}
	for _, name := range varyHeaders(resp.Headers) {
		if name == "*" {
			return fmt.Errorf("response for %s has Vary: *", req.URL)
		}
	}
	return nil
}
