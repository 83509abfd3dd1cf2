package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"swproxy/internal/domain"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// handleInstall はアセットを一括でキャッシュする
func (w *Worker) handleInstall(ctx context.Context, _ domain.Event) (*domain.Response, error) {
	w.setState(domain.StateInstalling)

	err := w.precache(ctx)
	if err != nil {
		w.deps.Logger.Error("Cache installation failed", err, map[string]interface{}{
			"worker": w.id,
			"cache":  w.cfg.CacheName,
			"mode":   string(w.cfg.Precache),
		})
	} else {
		w.deps.Logger.Info("Cache installation complete", map[string]interface{}{
			"worker": w.id,
			"cache":  w.cfg.CacheName,
			"assets": len(w.cfg.Assets),
		})
	}

	if w.cfg.SkipWaiting {
		w.mu.Lock()
		w.skipWaiting = true
		w.mu.Unlock()
	}

	if err != nil && w.cfg.Precache == domain.PrecacheStrict {
		w.setState(domain.StateRedundant)
		w.deps.Metrics.RecordLifecycle(domain.EventInstall, outcomeFailed)
		return nil, fmt.Errorf("install %s: %w", w.id, err)
	}

	w.setState(domain.StateInstalled)
	w.deps.Metrics.RecordLifecycle(domain.EventInstall, outcomeOK)
	return nil, nil
}

// precache は全アセットを取得し, 全て成功した場合のみ書き込む
func (w *Worker) precache(ctx context.Context) error {
	cache, err := w.deps.Caches.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", w.cfg.CacheName, err)
	}

	entries := make([]domain.CacheEntry, 0, len(w.cfg.Assets))
	for _, asset := range w.cfg.Assets {
		u, err := w.cfg.Resolve(asset)
		if err != nil {
			return fmt.Errorf("resolve %s: %w: %v", asset, domain.ErrPrecacheFailed, err)
		}

		req := domain.NewRequest(http.MethodGet, u)
		resp, err := w.deps.Network.Fetch(ctx, req)
		if err != nil {
			w.deps.Metrics.RecordNetworkError()
			return fmt.Errorf("%w: %w", domain.ErrPrecacheFailed, err)
		}
		if !resp.OK() {
			return fmt.Errorf("%w: %s returned status %d", domain.ErrPrecacheFailed, u, resp.StatusCode)
		}
		entries = append(entries, domain.CacheEntry{Request: req, Response: resp})
	}

	if err := cache.PutAll(ctx, entries); err != nil {
		if errors.Is(err, domain.ErrPrecacheFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPrecacheFailed, err)
	}
	for range entries {
		w.deps.Metrics.RecordCacheWrite()
	}
	return nil
}

// handleActivate は古いキャッシュを削除し, 全クライアントを制御下に置く
func (w *Worker) handleActivate(ctx context.Context, _ domain.Event) (*domain.Response, error) {
	w.setState(domain.StateActivating)

	if err := w.activate(ctx); err != nil {
		w.setState(domain.StateRedundant)
		w.deps.Metrics.RecordLifecycle(domain.EventActivate, outcomeFailed)
		w.deps.Logger.Error("Activation failed", err, map[string]interface{}{
			"worker": w.id,
		})
		return nil, fmt.Errorf("activate %s: %w", w.id, err)
	}

	w.setState(domain.StateActivated)
	w.deps.Metrics.RecordLifecycle(domain.EventActivate, outcomeOK)
	return nil, nil
}

func (w *Worker) activate(ctx context.Context) error {
	names, err := w.deps.Caches.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}

	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		if _, err := w.deps.Caches.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		w.deps.Metrics.RecordCacheDeleted(name)
		w.deps.Logger.Info("Deleting old cache", map[string]interface{}{
			"cache": name,
		})
	}

	if w.deps.Clients == nil {
		return nil
	}
	claimed, err := w.deps.Clients.Claim(ctx, w.id)
	if err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}
	w.deps.Logger.Info("Worker activated", map[string]interface{}{
		"worker":  w.id,
		"cache":   w.cfg.CacheName,
		"clients": claimed,
	})
	return nil
}
