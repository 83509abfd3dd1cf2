package usecase

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"swproxy/internal/domain"
)

//go:embed offline.html
var offlinePage []byte

// StrategyDeps はキャッシュポリシーの依存関係
type StrategyDeps struct {
	Config  domain.WorkerConfig
	Caches  domain.CacheStorage
	Network domain.Fetcher
	Bypass  domain.HostMatcher
	Metrics domain.MetricsCollector
	Logger  domain.Logger
	// Background はレスポンスを待たせない書き戻しを実行する
	Background func(ctx context.Context, fn func(ctx context.Context))
}

// NewStrategy は名前からキャッシュポリシーを作成
func NewStrategy(name string, deps StrategyDeps) (domain.Strategy, error) {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Background == nil {
		deps.Background = func(ctx context.Context, fn func(context.Context)) {
			fn(context.WithoutCancel(ctx))
		}
	}
	base := policy{deps: deps}

	switch name {
	case domain.StrategyNetworkFirst:
		return &NetworkFirst{policy: base}, nil
	case domain.StrategyCacheFirst:
		return &CacheFirst{policy: base}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q: %w", name, domain.ErrInvalidConfig)
	}
}

// policy は両ポリシー共通の処理
type policy struct {
	deps StrategyDeps
}

// fetch はネットワーク取得 (タイムアウト設定時のみ期限付き)
func (p *policy) fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if d := p.deps.Config.NetworkTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	resp, err := p.deps.Network.Fetch(ctx, req)
	if err != nil {
		p.deps.Metrics.RecordNetworkError()
		return nil, err
	}
	return resp, nil
}

// match は全キャッシュを検索し, ヒット/ミスを記録する
func (p *policy) match(ctx context.Context, req *domain.Request) (*domain.Response, bool) {
	resp, ok, err := p.deps.Caches.Match(ctx, req)
	if err != nil {
		p.deps.Logger.Error("Cache lookup failed", err, map[string]interface{}{
			"url": req.URL.String(),
		})
		ok = false
	}
	if ok {
		p.deps.Metrics.RecordCacheHit()
		return resp, true
	}
	p.deps.Metrics.RecordCacheMiss()
	return nil, false
}

// matchShell はオフライン時のナビゲーション用にアプリシェルを探す
func (p *policy) matchShell(ctx context.Context) (*domain.Response, bool) {
	u, err := p.deps.Config.Resolve(p.deps.Config.FallbackPath)
	if err != nil {
		p.deps.Logger.Error("Invalid fallback path", err, map[string]interface{}{
			"path": p.deps.Config.FallbackPath,
		})
		return nil, false
	}
	return p.match(ctx, domain.NewRequest(http.MethodGet, u))
}

// put は現在のキャッシュにレスポンスを書き込む
func (p *policy) put(ctx context.Context, req *domain.Request, resp *domain.Response) {
	cache, err := p.deps.Caches.Open(ctx, p.deps.Config.CacheName)
	if err == nil {
		err = cache.Put(ctx, req, resp)
	}
	if err != nil {
		p.deps.Logger.Error("Cache write failed", err, map[string]interface{}{
			"url":   req.URL.String(),
			"cache": p.deps.Config.CacheName,
		})
		return
	}
	p.deps.Metrics.RecordCacheWrite()
}

// NetworkFirst は常にネットワークを優先し, 失敗時のみキャッシュを使うポリシー
type NetworkFirst struct {
	policy
}

func (s *NetworkFirst) Name() string {
	return domain.StrategyNetworkFirst
}

// Resolve はリクエストをレスポンスに解決する
func (s *NetworkFirst) Resolve(ctx context.Context, ev *domain.FetchEvent) (*domain.Response, error) {
	req := ev.Request

	// 別オリジン (外部API) はキャッシュせずそのまま転送
	if req.Origin() != domain.Origin(s.deps.Config.Scope) {
		resp, err := s.fetch(ctx, req)
		if err != nil {
			s.deps.Logger.Warn("Cross-origin fetch failed", map[string]interface{}{
				"url":   req.URL.String(),
				"error": err.Error(),
			})
			return networkErrorResponse(req), nil
		}
		return resp, nil
	}

	resp, err := s.fetch(ctx, req)
	if err == nil {
		if req.Method == http.MethodGet {
			clone := resp.Clone()
			s.deps.Background(ctx, func(bctx context.Context) {
				s.put(bctx, req, clone)
			})
		}
		return resp, nil
	}

	s.deps.Logger.Debug("Network failed, trying cache", map[string]interface{}{
		"url":   req.URL.String(),
		"error": err.Error(),
	})

	if cached, ok := s.match(ctx, req); ok {
		s.deps.Logger.Info("Serving from cache", map[string]interface{}{
			"url": req.URL.String(),
		})
		return cached, nil
	}

	if req.IsNavigation() {
		if shell, ok := s.matchShell(ctx); ok {
			return shell, nil
		}
	}

	return networkErrorResponse(req), nil
}

// CacheFirst はキャッシュを優先し, 指定ホストのみネットワーク専用とするポリシー
type CacheFirst struct {
	policy
}

func (s *CacheFirst) Name() string {
	return domain.StrategyCacheFirst
}

// Resolve はリクエストをレスポンスに解決する
func (s *CacheFirst) Resolve(ctx context.Context, ev *domain.FetchEvent) (*domain.Response, error) {
	req := ev.Request

	// 外部APIは常にネットワーク, キャッシュには触れない
	if s.deps.Bypass != nil && s.deps.Bypass.Matches(req.URL.Host) {
		resp, err := s.fetch(ctx, req)
		if err != nil {
			s.deps.Logger.Warn("Remote API unreachable, serving offline page", map[string]interface{}{
				"url":   req.URL.String(),
				"error": err.Error(),
			})
			return offlineResponse(req), nil
		}
		return resp, nil
	}

	if cached, ok := s.match(ctx, req); ok {
		return cached, nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		s.deps.Logger.Debug("Cache miss and network failed", map[string]interface{}{
			"url":   req.URL.String(),
			"error": err.Error(),
		})
		if req.IsNavigation() {
			if shell, ok := s.matchShell(ctx); ok {
				return shell, nil
			}
		}
		return networkErrorResponse(req), nil
	}

	// エラーレスポンスはキャッシュしない
	if resp == nil {
		return networkErrorResponse(req), nil
	}
	if resp.StatusCode != http.StatusOK || resp.Type == domain.ResponseTypeError || req.Method != http.MethodGet {
		return resp, nil
	}

	s.put(ctx, req, resp.Clone())
	return resp, nil
}

// networkErrorResponse はネットワークもキャッシュも使えない場合の408レスポンス
func networkErrorResponse(req *domain.Request) *domain.Response {
	return &domain.Response{
		StatusCode: http.StatusRequestTimeout,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte("Network error"),
		Type:       domain.ResponseTypeBasic,
		Source:     domain.SourceSynthetic,
		URL:        req.URL.String(),
		CreatedAt:  time.Now(),
	}
}

// offlineResponse は外部API不達時のオフラインページ
func offlineResponse(req *domain.Request) *domain.Response {
	return &domain.Response{
		StatusCode: http.StatusOK,
		Headers: http.Header{
			"Content-Type":  {"text/html; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body:      append([]byte(nil), offlinePage...),
		Type:      domain.ResponseTypeBasic,
		Source:    domain.SourceSynthetic,
		URL:       req.URL.String(),
		CreatedAt: time.Now(),
	}
}
