package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"swproxy/internal/domain"
)

func backends(t *testing.T) map[string]domain.CacheBackend {
	t.Helper()

	disk, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bolt, err := OpenBackend(KindBolt, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenBackend(bolt) error = %v", err)
	}
	sqlite, err := OpenBackend(KindSQLite, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenBackend(sqlite) error = %v", err)
	}
	t.Cleanup(func() {
		bolt.Close()
		sqlite.Close()
	})

	return map[string]domain.CacheBackend{
		KindMemory: NewMemory(),
		KindDisk:   disk,
		KindBolt:   bolt,
		KindSQLite: sqlite,
	}
}

func getRequest(t *testing.T, raw string) *domain.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return domain.NewRequest(http.MethodGet, u)
}

func okResponse(body string) *domain.Response {
	return &domain.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
		Type:       domain.ResponseTypeBasic,
		Source:     domain.SourceNetwork,
	}
}

func TestStoragePutAndMatch(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			storage := NewStorage(backend)

			c, err := storage.Open(ctx, "v1")
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			req := getRequest(t, "https://shop.example/index.html#top")
			if err := c.Put(ctx, req, okResponse("shell")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			// フラグメント違いでも同じエントリに一致する
			got, ok, err := c.Match(ctx, getRequest(t, "https://shop.example/index.html"))
			if err != nil || !ok {
				t.Fatalf("Match() = %v, %v, want hit", ok, err)
			}
			if string(got.Body) != "shell" || got.Source != domain.SourceCache {
				t.Errorf("Match() body = %q source = %q", got.Body, got.Source)
			}

			// Storage.Match は全キャッシュを検索する
			if _, ok, _ := storage.Match(ctx, req); !ok {
				t.Errorf("Storage.Match() missed entry")
			}

			keys, err := c.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if diff := cmp.Diff([]string{"GET https://shop.example/index.html"}, keys); diff != "" {
				t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
			}

			deleted, err := c.Delete(ctx, req)
			if err != nil || !deleted {
				t.Fatalf("Delete() = %v, %v", deleted, err)
			}
			if _, ok, _ := c.Match(ctx, req); ok {
				t.Errorf("Match() after Delete() = hit")
			}
		})
	}
}

func TestStorageDeleteCaches(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			storage := NewStorage(backend)
			for _, n := range []string{"v2", "v1"} {
				c, err := storage.Open(ctx, n)
				if err != nil {
					t.Fatalf("Open(%q) error = %v", n, err)
				}
				if err := c.Put(ctx, getRequest(t, "https://shop.example/"+n), okResponse(n)); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}

			names, err := storage.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if diff := cmp.Diff([]string{"v2", "v1"}, names); diff != "" {
				t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
			}

			deleted, err := storage.Delete(ctx, "v1")
			if err != nil || !deleted {
				t.Fatalf("Delete(v1) = %v, %v", deleted, err)
			}
			deleted, err = storage.Delete(ctx, "v1")
			if err != nil || deleted {
				t.Fatalf("second Delete(v1) = %v, %v, want false, nil", deleted, err)
			}
			if has, _ := storage.Has(ctx, "v1"); has {
				t.Errorf("Has(v1) = true after delete")
			}
			if has, _ := storage.Has(ctx, "v2"); !has {
				t.Errorf("Has(v2) = false")
			}
		})
	}
}

func TestStorageMatchUsesCreationOrder(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			storage := NewStorage(backend)
			req := getRequest(t, "https://shop.example/orders")

			// 名前順では shop-v10 が先になる
			for _, n := range []string{"shop-v9", "shop-v10"} {
				c, err := storage.Open(ctx, n)
				if err != nil {
					t.Fatalf("Open(%q) error = %v", n, err)
				}
				if err := c.Put(ctx, req, okResponse("from-"+n)); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}

			names, err := storage.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if diff := cmp.Diff([]string{"shop-v9", "shop-v10"}, names); diff != "" {
				t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
			}

			got, ok, err := storage.Match(ctx, req)
			if err != nil || !ok {
				t.Fatalf("Match() = %v, %v, want hit", ok, err)
			}
			if string(got.Body) != "from-shop-v9" {
				t.Errorf("Match() body = %q, want from-shop-v9", got.Body)
			}

			// 作り直したキャッシュは最後に並ぶ
			if _, err := storage.Delete(ctx, "shop-v9"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := storage.Open(ctx, "shop-v9"); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			names, _ = storage.Keys(ctx)
			if diff := cmp.Diff([]string{"shop-v10", "shop-v9"}, names); diff != "" {
				t.Errorf("Keys() after recreate mismatch (-want +got):\n%s", diff)
			}

			// 既存キャッシュを開き直しても順序は変わらない
			if _, err := storage.Open(ctx, "shop-v10"); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			names, _ = storage.Keys(ctx)
			if diff := cmp.Diff([]string{"shop-v10", "shop-v9"}, names); diff != "" {
				t.Errorf("Keys() after reopen mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRepositoryCreationOrderSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, n := range []string{"shop-v9", "shop-v10"} {
		if err := repo.CreateBucket(ctx, n); err != nil {
			t.Fatalf("CreateBucket(%q) error = %v", n, err)
		}
	}

	reopened, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := reopened.CreateBucket(ctx, "shop-v11"); err != nil {
		t.Fatalf("CreateBucket() error = %v", err)
	}
	names, err := reopened.Buckets(ctx)
	if err != nil {
		t.Fatalf("Buckets() error = %v", err)
	}
	if diff := cmp.Diff([]string{"shop-v9", "shop-v10", "shop-v11"}, names); diff != "" {
		t.Errorf("Buckets() mismatch (-want +got):\n%s", diff)
	}
	if reopened.Size() != 0 {
		t.Errorf("Size() = %d, want 0", reopened.Size())
	}
}

func TestStorageRejectsNonGet(t *testing.T) {
	ctx := context.Background()
	c, err := NewStorage(NewMemory()).Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	req := getRequest(t, "https://shop.example/api")
	req.Method = http.MethodPost
	err = c.Put(ctx, req, okResponse("x"))
	if !errors.Is(err, domain.ErrUnsupportedMethod) {
		t.Fatalf("Put(POST) error = %v, want ErrUnsupportedMethod", err)
	}
	if _, ok, _ := c.Match(ctx, req); ok {
		t.Errorf("Match(POST) = hit")
	}
}

func TestStoragePutAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	c, err := NewStorage(NewMemory()).Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	bad := getRequest(t, "https://shop.example/b")
	bad.Method = http.MethodPut
	err = c.PutAll(ctx, []domain.CacheEntry{
		{Request: getRequest(t, "https://shop.example/a"), Response: okResponse("a")},
		{Request: bad, Response: okResponse("b")},
	})
	if err == nil {
		t.Fatal("PutAll() error = nil, want error")
	}
	keys, _ := c.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty after failed PutAll", keys)
	}
}

func TestStorageVary(t *testing.T) {
	ctx := context.Background()
	c, err := NewStorage(NewMemory()).Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	req := getRequest(t, "https://shop.example/data.json")
	req.Headers.Set("Accept-Language", "ja")
	resp := okResponse("ja")
	resp.Headers.Set("Vary", "accept-language")
	if err := c.Put(ctx, req, resp); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	same := getRequest(t, "https://shop.example/data.json")
	same.Headers.Set("Accept-Language", "ja")
	if _, ok, _ := c.Match(ctx, same); !ok {
		t.Errorf("Match(same Accept-Language) = miss")
	}

	other := getRequest(t, "https://shop.example/data.json")
	other.Headers.Set("Accept-Language", "en")
	if _, ok, _ := c.Match(ctx, other); ok {
		t.Errorf("Match(other Accept-Language) = hit")
	}
}

func TestRepositoryQuota(t *testing.T) {
	ctx := context.Background()
	repo, err := New(t.TempDir(), 32)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := repo.CreateBucket(ctx, "v1"); err != nil {
		t.Fatalf("CreateBucket() error = %v", err)
	}

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i * 7)
	}
	err = repo.PutBatch(ctx, "v1", map[string][]byte{"GET https://shop.example/big": big})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("PutBatch() error = %v, want ErrQuotaExceeded", err)
	}
	if repo.Size() != 0 {
		t.Errorf("Size() = %d, want 0", repo.Size())
	}
	keys, _ := repo.Keys(ctx, "v1")
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty", keys)
	}
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := repo.CreateBucket(ctx, "shop-admin-pwa-v1.0.0"); err != nil {
		t.Fatalf("CreateBucket() error = %v", err)
	}
	if err := repo.PutBatch(ctx, "shop-admin-pwa-v1.0.0", map[string][]byte{"k": []byte("value")}); err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}

	reopened, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if reopened.Size() != repo.Size() || reopened.Size() == 0 {
		t.Errorf("Size() = %d, want %d", reopened.Size(), repo.Size())
	}
	names, _ := reopened.Buckets(ctx)
	if diff := cmp.Diff([]string{"shop-admin-pwa-v1.0.0"}, names); diff != "" {
		t.Errorf("Buckets() mismatch (-want +got):\n%s", diff)
	}
	data, ok, err := reopened.Get(ctx, "shop-admin-pwa-v1.0.0", "k")
	if err != nil || !ok || string(data) != "value" {
		t.Errorf("Get() = %q, %v, %v", data, ok, err)
	}
}
