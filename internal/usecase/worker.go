package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"swproxy/internal/domain"
)

// Deps はワーカーが利用するリポジトリ群
type Deps struct {
	Caches   domain.CacheStorage
	Network  domain.Fetcher
	Clients  domain.Clients
	Notifier domain.Notifier
	Bypass   domain.HostMatcher
	Metrics  domain.MetricsCollector
	Logger   domain.Logger
}

type handlerFunc func(ctx context.Context, ev domain.Event) (*domain.Response, error)

// Worker はイベントを種別ごとのハンドラへ配送する
//
// install/activate は lifecycle で, message は control で直列化される。
// fetch は並行に処理される。
type Worker struct {
	id       string
	cfg      domain.WorkerConfig
	deps     Deps
	strategy domain.Strategy
	handlers map[domain.EventKind]handlerFunc

	lifecycle sync.Mutex
	control   sync.Mutex

	mu            sync.RWMutex
	state         domain.WorkerState
	skipWaiting   bool
	onSkipWaiting func(ctx context.Context, w *Worker) error

	pending sync.WaitGroup
}

// NewWorker は新しいWorkerインスタンスを作成
func NewWorker(cfg domain.WorkerConfig, deps Deps) (*Worker, error) {
	if cfg.Scope == nil || !cfg.Scope.IsAbs() {
		return nil, fmt.Errorf("scope must be an absolute URL: %w", domain.ErrInvalidConfig)
	}
	if cfg.CacheName == "" {
		return nil, fmt.Errorf("cache name is required: %w", domain.ErrInvalidConfig)
	}
	if deps.Caches == nil || deps.Network == nil || deps.Logger == nil {
		return nil, fmt.Errorf("caches, network and logger are required: %w", domain.ErrInvalidConfig)
	}
	if cfg.Notifications.Enabled && (deps.Notifier == nil || deps.Clients == nil) {
		return nil, fmt.Errorf("notifications need a notifier and clients: %w", domain.ErrInvalidConfig)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}

	w := &Worker{
		id:    uuid.NewString(),
		cfg:   cfg,
		deps:  deps,
		state: domain.StateParsed,
	}

	strategy, err := NewStrategy(cfg.Strategy, StrategyDeps{
		Config:     cfg,
		Caches:     deps.Caches,
		Network:    deps.Network,
		Bypass:     deps.Bypass,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
		Background: w.goBackground,
	})
	if err != nil {
		return nil, err
	}
	w.strategy = strategy

	// 明示的なディスパッチテーブル
	w.handlers = map[domain.EventKind]handlerFunc{
		domain.EventInstall:  w.handleInstall,
		domain.EventActivate: w.handleActivate,
		domain.EventFetch:    w.handleFetch,
		domain.EventSync:     w.handleSync,
	}
	if cfg.ControlChannel {
		w.handlers[domain.EventMessage] = w.handleMessage
	}
	if cfg.Notifications.Enabled {
		w.handlers[domain.EventPush] = w.handlePush
		w.handlers[domain.EventNotificationClick] = w.handleNotificationClick
	}

	return w, nil
}

// ID はワーカーIDを返す
func (w *Worker) ID() string {
	return w.id
}

// Config はワーカー設定を返す
func (w *Worker) Config() domain.WorkerConfig {
	return w.cfg
}

// Strategy はキャッシュポリシー名を返す
func (w *Worker) Strategy() string {
	return w.strategy.Name()
}

// State は現在の状態を返す
func (w *Worker) State() domain.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Handles は指定された種別のハンドラが登録されているか確認
func (w *Worker) Handles(kind domain.EventKind) bool {
	_, ok := w.handlers[kind]
	return ok
}

// Dispatch はイベントを登録済みハンドラに配送する
// ハンドラのない種別は何もしない
func (w *Worker) Dispatch(ctx context.Context, ev domain.Event) (*domain.Response, error) {
	kind := ev.Kind()
	h, ok := w.handlers[kind]
	if !ok {
		w.deps.Logger.Debug("No handler registered for event", map[string]interface{}{
			"worker": w.id,
			"event":  string(kind),
		})
		return nil, nil
	}

	switch kind {
	case domain.EventInstall, domain.EventActivate:
		w.lifecycle.Lock()
		defer w.lifecycle.Unlock()
	case domain.EventMessage:
		w.control.Lock()
		defer w.control.Unlock()
	}

	return h(ctx, ev)
}

// Install はインストールイベントを配送する
func (w *Worker) Install(ctx context.Context) error {
	_, err := w.Dispatch(ctx, &domain.InstallEvent{})
	return err
}

// Activate はアクティベートイベントを配送する
func (w *Worker) Activate(ctx context.Context) error {
	_, err := w.Dispatch(ctx, &domain.ActivateEvent{})
	return err
}

// Fetch はリクエストを横取りしてレスポンスを返す
func (w *Worker) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	return w.Dispatch(ctx, &domain.FetchEvent{Request: req, ClientID: req.ClientID})
}

// SkipWaiting は待機のスキップを要求する
// 登録側で待機中なら即座に有効化される
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	hook := w.onSkipWaiting
	state := w.state
	w.mu.Unlock()

	w.deps.Logger.Info("Skip waiting requested", map[string]interface{}{
		"worker": w.id,
		"state":  string(state),
	})

	if hook != nil && state == domain.StateInstalled {
		return hook(ctx, w)
	}
	return nil
}

// Wait はバックグラウンドのキャッシュ書き戻しが終わるまで待つ
func (w *Worker) Wait() {
	w.pending.Wait()
}

func (w *Worker) skipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) setState(state domain.WorkerState) {
	w.mu.Lock()
	prev := w.state
	w.state = state
	w.mu.Unlock()

	if prev != state {
		w.deps.Logger.Debug("Worker state changed", map[string]interface{}{
			"worker": w.id,
			"from":   string(prev),
			"to":     string(state),
		})
	}
}

func (w *Worker) setSkipWaitingHook(hook func(ctx context.Context, w *Worker) error) {
	w.mu.Lock()
	w.onSkipWaiting = hook
	w.mu.Unlock()
}

// goBackground はリクエストのキャンセルから切り離して処理を実行する
func (w *Worker) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	w.pending.Add(1)
	bctx := context.WithoutCancel(ctx)
	go func() {
		defer w.pending.Done()
		fn(bctx)
	}()
}

// handleFetch は必ずレスポンスを返す
func (w *Worker) handleFetch(ctx context.Context, ev domain.Event) (*domain.Response, error) {
	fe, ok := ev.(*domain.FetchEvent)
	if !ok || fe.Request == nil || fe.Request.URL == nil {
		return nil, fmt.Errorf("unexpected fetch event %T", ev)
	}

	start := time.Now()
	resp, err := w.strategy.Resolve(ctx, fe)
	if err != nil || resp == nil {
		if err != nil {
			w.deps.Logger.Error("Strategy failed", err, map[string]interface{}{
				"url":      fe.Request.URL.String(),
				"strategy": w.strategy.Name(),
			})
		}
		resp = networkErrorResponse(fe.Request)
	}

	w.deps.Metrics.RecordFetch(w.strategy.Name(), resp.Source, time.Since(start))
	w.deps.Logger.Debug("Fetch resolved", map[string]interface{}{
		"method": fe.Request.Method,
		"url":    fe.Request.URL.String(),
		"status": resp.StatusCode,
		"source": string(resp.Source),
	})
	return resp, nil
}
