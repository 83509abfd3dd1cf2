package usecase

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"swproxy/internal/domain"
)

// ConfigLoader は最新のワーカー設定を読み込む
type ConfigLoader func() (domain.WorkerConfig, error)

// Updater は設定を読み直し, 新しいワーカーとして登録する
//
// 起動時の登録と実行中のバージョン更新の両方に使う。
// スコープはプロキシの待ち受けと結び付いているため実行中には変更できない。
type Updater struct {
	mu           sync.Mutex
	registration *Registration
	load         ConfigLoader
	deps         Deps
	scope        string
}

// NewUpdater は新しいUpdaterインスタンスを作成
func NewUpdater(registration *Registration, load ConfigLoader, deps Deps) *Updater {
	return &Updater{
		registration: registration,
		load:         load,
		deps:         deps,
	}
}

// Update は設定を読み込み, 新しいワーカーをインストールする
// 有効なワーカーと設定が同じなら何もせずそのワーカーを返す。
// インストールに失敗した場合もワーカーを返すので状態を確認できる。
func (u *Updater) Update(ctx context.Context) (*Worker, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	cfg, err := u.load()
	if err != nil {
		return nil, fmt.Errorf("load worker config: %w", err)
	}
	if cfg.Scope == nil {
		return nil, fmt.Errorf("scope is required: %w", domain.ErrInvalidConfig)
	}
	if u.scope != "" && cfg.Scope.String() != u.scope {
		return nil, fmt.Errorf("scope cannot change from %s to %s: %w", u.scope, cfg.Scope, domain.ErrInvalidConfig)
	}

	if active := u.registration.Active(); active != nil && reflect.DeepEqual(active.Config(), cfg) {
		u.deps.Logger.Info("Worker is up to date", map[string]interface{}{
			"worker": active.ID(),
			"cache":  cfg.CacheName,
		})
		return active, nil
	}

	w, err := NewWorker(cfg, u.deps)
	if err != nil {
		return nil, err
	}
	u.scope = cfg.Scope.String()

	u.deps.Logger.Info("Registering worker", map[string]interface{}{
		"worker":   w.ID(),
		"cache":    cfg.CacheName,
		"strategy": cfg.Strategy,
	})
	if err := u.registration.Register(ctx, w); err != nil {
		return w, err
	}
	return w, nil
}
