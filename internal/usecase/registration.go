package usecase

import (
	"context"
	"sync"

	"swproxy/internal/domain"
)

// Registration はスコープに対する installing / waiting / active のワーカーを保持する
type Registration struct {
	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	logger     domain.Logger
}

// RegistrationState は登録状態のスナップショット
type RegistrationState struct {
	Installing *WorkerInfo `json:"installing,omitempty"`
	Waiting    *WorkerInfo `json:"waiting,omitempty"`
	Active     *WorkerInfo `json:"active,omitempty"`
}

// WorkerInfo はワーカーの公開情報
type WorkerInfo struct {
	ID       string             `json:"id"`
	State    domain.WorkerState `json:"state"`
	Cache    string             `json:"cache"`
	Strategy string             `json:"strategy"`
}

// NewRegistration は新しいRegistrationインスタンスを作成
func NewRegistration(logger domain.Logger) *Registration {
	return &Registration{logger: logger}
}

// Register はワーカーをインストールし, 条件を満たせば有効化する
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	if err := w.Install(ctx); err != nil {
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if r.installing == w {
		r.installing = nil
	}
	if r.active != nil && !w.skipWaitingRequested() {
		prev := r.waiting
		r.waiting = w
		r.mu.Unlock()

		if prev != nil {
			prev.setState(domain.StateRedundant)
		}
		w.setSkipWaitingHook(r.promote)
		r.logger.Info("Worker installed and waiting", map[string]interface{}{
			"worker": w.ID(),
		})
		return nil
	}
	r.mu.Unlock()

	return r.activate(ctx, w)
}

// promote は待機中のワーカーを有効化する
func (r *Registration) promote(ctx context.Context, w *Worker) error {
	r.mu.RLock()
	waiting := r.waiting == w
	r.mu.RUnlock()
	if !waiting {
		return nil
	}
	return r.activate(ctx, w)
}

func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if err := w.Activate(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.active
	r.active = w
	r.mu.Unlock()

	if prev != nil && prev != w {
		prev.setState(domain.StateRedundant)
		prev.Wait()
	}
	return nil
}

// Active は現在の制御ワーカーを返す
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting は待機中のワーカーを返す
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// State は登録状態を返す
func (r *Registration) State() RegistrationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistrationState{
		Installing: workerInfo(r.installing),
		Waiting:    workerInfo(r.waiting),
		Active:     workerInfo(r.active),
	}
}

// Wait は全ワーカーのバックグラウンド処理を待つ
func (r *Registration) Wait() {
	r.mu.RLock()
	workers := []*Worker{r.installing, r.waiting, r.active}
	r.mu.RUnlock()

	for _, w := range workers {
		if w != nil {
			w.Wait()
		}
	}
}

// Info はワーカーの公開情報を返す
func (w *Worker) Info() *WorkerInfo {
	return workerInfo(w)
}

func workerInfo(w *Worker) *WorkerInfo {
	if w == nil {
		return nil
	}
	return &WorkerInfo{
		ID:       w.ID(),
		State:    w.State(),
		Cache:    w.cfg.CacheName,
		Strategy: w.Strategy(),
	}
}
