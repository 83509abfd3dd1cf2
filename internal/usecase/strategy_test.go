package usecase

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"swproxy/internal/domain"
	"swproxy/internal/interface/repository/logger"
)

// seed は指定キャッシュにレスポンスを直接書き込む
func seed(t *testing.T, s domain.CacheStorage, name, raw, body string) {
	t.Helper()
	c, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Put(context.Background(), request(t, http.MethodGet, raw), &domain.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
		Type:       domain.ResponseTypeBasic,
	})
	if err != nil {
		t.Fatalf("Put(%s) error = %v", raw, err)
	}
}

func assertNetworkError(t *testing.T, resp *domain.Response) {
	t.Helper()
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Errorf("StatusCode = %d, want 408", resp.StatusCode)
	}
	if got := resp.Headers.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", got)
	}
	if string(resp.Body) != "Network error" {
		t.Errorf("Body = %q, want %q", resp.Body, "Network error")
	}
	if resp.Source != domain.SourceSynthetic {
		t.Errorf("Source = %s, want synthetic", resp.Source)
	}
}

func TestNetworkFirst(t *testing.T) {
	ctx := context.Background()

	t.Run("online response is returned and written back", func(t *testing.T) {
		env := newTestEnv()
		cfg := networkFirstConfig(t)
		w := env.worker(t, cfg)
		env.network.serve(testScope+"orders", http.StatusOK, "fresh")

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"orders"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceNetwork || string(resp.Body) != "fresh" {
			t.Errorf("Fetch() = %s %q, want network %q", resp.Source, resp.Body, "fresh")
		}

		w.Wait()
		if diff := cmp.Diff([]string{"GET " + testScope + "orders"}, cacheKeys(t, env.caches, cfg.CacheName)); diff != "" {
			t.Errorf("cache keys mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("error status is still returned from network", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, networkFirstConfig(t))
		seed(t, env.caches, "shop-admin-v1", testScope+"orders", "stale")
		env.network.serve(testScope+"orders", http.StatusInternalServerError, "boom")

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"orders"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusInternalServerError || resp.Source != domain.SourceNetwork {
			t.Errorf("Fetch() = %d from %s, want 500 from network", resp.StatusCode, resp.Source)
		}
	})

	t.Run("offline serves cached copy", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, networkFirstConfig(t))
		seed(t, env.caches, "shop-admin-v1", testScope+"orders", "cached")
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"orders"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceCache || string(resp.Body) != "cached" {
			t.Errorf("Fetch() = %s %q, want cache %q", resp.Source, resp.Body, "cached")
		}
	})

	t.Run("offline navigation falls back to app shell", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, networkFirstConfig(t))
		seed(t, env.caches, "shop-admin-v1", testScope+"index.html", "<html>shell</html>")
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, navigation(t, testScope+"products/42"))
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "<html>shell</html>" {
			t.Errorf("Body = %q, want app shell", resp.Body)
		}
	})

	t.Run("offline miss returns 408", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, networkFirstConfig(t))
		seed(t, env.caches, "shop-admin-v1", testScope+"index.html", "<html>shell</html>")
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"app.js"))
		if err != nil {
			t.Fatal(err)
		}
		assertNetworkError(t, resp)
	})

	t.Run("cross-origin is never cached", func(t *testing.T) {
		env := newTestEnv()
		cfg := networkFirstConfig(t)
		w := env.worker(t, cfg)
		env.network.serve("https://api.example/v1/stats", http.StatusOK, "{}")

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, "https://api.example/v1/stats"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
		}

		w.Wait()
		if ok, _ := env.caches.Has(ctx, cfg.CacheName); ok {
			t.Error("cross-origin response created a cache")
		}

		env.network.setOffline(true)
		resp, err = w.Fetch(ctx, request(t, http.MethodGet, "https://api.example/v1/stats"))
		if err != nil {
			t.Fatal(err)
		}
		assertNetworkError(t, resp)
	})

	t.Run("non-GET is not written back", func(t *testing.T) {
		env := newTestEnv()
		cfg := networkFirstConfig(t)
		w := env.worker(t, cfg)
		env.network.serve(testScope+"orders", http.StatusCreated, "created")

		if _, err := w.Fetch(ctx, request(t, http.MethodPost, testScope+"orders")); err != nil {
			t.Fatal(err)
		}
		w.Wait()
		if ok, _ := env.caches.Has(ctx, cfg.CacheName); ok {
			t.Error("POST response created a cache")
		}
	})

	t.Run("write-back survives request cancellation", func(t *testing.T) {
		env := newTestEnv()
		cfg := networkFirstConfig(t)
		w := env.worker(t, cfg)
		env.network.serve(testScope+"orders", http.StatusOK, "fresh")

		reqCtx, cancel := context.WithCancel(ctx)
		if _, err := w.Fetch(reqCtx, request(t, http.MethodGet, testScope+"orders")); err != nil {
			t.Fatal(err)
		}
		cancel()
		w.Wait()

		if keys := cacheKeys(t, env.caches, cfg.CacheName); len(keys) != 1 {
			t.Errorf("cache keys = %v, want one entry", keys)
		}
	})

	t.Run("network timeout falls back to cache", func(t *testing.T) {
		env := newTestEnv()
		cfg := networkFirstConfig(t)
		cfg.NetworkTimeout = 20 * time.Millisecond
		w := env.worker(t, cfg)
		seed(t, env.caches, cfg.CacheName, testScope+"orders", "cached")
		env.network.block = true

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"orders"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceCache {
			t.Errorf("Source = %s, want cache", resp.Source)
		}
	})
}

func TestCacheFirst(t *testing.T) {
	ctx := context.Background()

	t.Run("hit issues no fetch", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, cacheFirstConfig(t))
		seed(t, env.caches, "shop-admin-cache-v1", testScope+"app.js", "cached")

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"app.js"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceCache || string(resp.Body) != "cached" {
			t.Errorf("Fetch() = %s %q, want cache %q", resp.Source, resp.Body, "cached")
		}
		if n := env.network.callCount(); n != 0 {
			t.Errorf("network calls = %d, want 0", n)
		}
	})

	t.Run("miss is fetched and cached before returning", func(t *testing.T) {
		env := newTestEnv()
		cfg := cacheFirstConfig(t)
		w := env.worker(t, cfg)
		env.network.serve(testScope+"app.js", http.StatusOK, "fresh")

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"app.js"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceNetwork {
			t.Errorf("Source = %s, want network", resp.Source)
		}
		if diff := cmp.Diff([]string{"GET " + testScope + "app.js"}, cacheKeys(t, env.caches, cfg.CacheName)); diff != "" {
			t.Errorf("cache keys mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("non-200 is returned without caching", func(t *testing.T) {
		env := newTestEnv()
		cfg := cacheFirstConfig(t)
		w := env.worker(t, cfg)

		for _, status := range []int{http.StatusNotFound, http.StatusNoContent, http.StatusInternalServerError} {
			raw := testScope + "status/" + strconv.Itoa(status)
			env.network.serve(raw, status, "")
			resp, err := w.Fetch(ctx, request(t, http.MethodGet, raw))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, status)
			}
		}
		if ok, _ := env.caches.Has(ctx, cfg.CacheName); ok {
			t.Errorf("cache keys = %v, want no cache", cacheKeys(t, env.caches, cfg.CacheName))
		}
	})

	t.Run("error type is returned without caching", func(t *testing.T) {
		env := newTestEnv()
		cfg := cacheFirstConfig(t)
		w := env.worker(t, cfg)
		raw := testScope + "broken.js"
		env.network.mu.Lock()
		env.network.responses[raw] = &domain.Response{
			StatusCode: http.StatusOK,
			Body:       []byte("partial"),
			Type:       domain.ResponseTypeError,
		}
		env.network.mu.Unlock()

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, raw))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Type != domain.ResponseTypeError || string(resp.Body) != "partial" {
			t.Errorf("Fetch() = %s %q, want the error response as-is", resp.Type, resp.Body)
		}
		if keys := cacheKeys(t, env.caches, cfg.CacheName); len(keys) != 0 {
			t.Errorf("cache keys = %v, want empty", keys)
		}
	})

	t.Run("missing network response returns 408", func(t *testing.T) {
		env := newTestEnv()
		cfg := cacheFirstConfig(t)
		w, err := NewWorker(cfg, Deps{
			Caches:  env.caches,
			Network: nilNetwork{},
			Logger:  logger.NewNop(),
		})
		if err != nil {
			t.Fatal(err)
		}

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"app.js"))
		if err != nil {
			t.Fatal(err)
		}
		assertNetworkError(t, resp)
		if keys := cacheKeys(t, env.caches, cfg.CacheName); len(keys) != 0 {
			t.Errorf("cache keys = %v, want empty", keys)
		}
	})

	t.Run("bypass host never touches the cache", func(t *testing.T) {
		env := newTestEnv()
		cfg := cacheFirstConfig(t)
		w := env.worker(t, cfg)
		raw := "https://script.google.com/macros/s/abc/exec?action=list"
		seed(t, env.caches, "stale", raw, "stale")
		env.network.serve(raw, http.StatusOK, `{"rows":[]}`)

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, raw))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Source != domain.SourceNetwork || string(resp.Body) != `{"rows":[]}` {
			t.Errorf("Fetch() = %s %q, want network response", resp.Source, resp.Body)
		}
		if ok, _ := env.caches.Has(ctx, cfg.CacheName); ok {
			t.Error("bypass response was cached")
		}
	})

	t.Run("bypass host offline serves offline page", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, cacheFirstConfig(t))
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, "https://n-abc-script.googleusercontent.com/exec"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
		}
		want := http.Header{
			"Content-Type":  {"text/html; charset=utf-8"},
			"Cache-Control": {"no-store"},
		}
		if diff := cmp.Diff(want, resp.Headers); diff != "" {
			t.Errorf("headers mismatch (-want +got):\n%s", diff)
		}
		if !strings.Contains(string(resp.Body), "offline") {
			t.Errorf("Body does not look like the offline page: %q", resp.Body)
		}
	})

	t.Run("double failure on navigation serves app shell", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, cacheFirstConfig(t))
		seed(t, env.caches, "shop-admin-cache-v1", testScope+"index.html", "<html>shell</html>")
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, navigation(t, testScope+"settings"))
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "<html>shell</html>" {
			t.Errorf("Body = %q, want app shell", resp.Body)
		}
	})

	t.Run("double failure otherwise returns 408", func(t *testing.T) {
		env := newTestEnv()
		w := env.worker(t, cacheFirstConfig(t))
		env.network.setOffline(true)

		resp, err := w.Fetch(ctx, request(t, http.MethodGet, testScope+"logo.png"))
		if err != nil {
			t.Fatal(err)
		}
		assertNetworkError(t, resp)
	})
}

// nilNetwork はエラーもレスポンスも返さない
type nilNetwork struct{}

func (nilNetwork) Fetch(context.Context, *domain.Request) (*domain.Response, error) {
	return nil, nil
}
