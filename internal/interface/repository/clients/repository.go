package clients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"swproxy/internal/domain"
)

// Repository はワーカーが制御するページをメモリ上で管理する
type Repository struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

var _ domain.Clients = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New() *Repository {
	return &Repository{clients: make(map[string]*domain.Client)}
}

// Register はページをクライアントとして登録
func (r *Repository) Register(_ context.Context, url string) (*domain.Client, error) {
	c := &domain.Client{
		ID:        uuid.NewString(),
		URL:       url,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	cp := *c
	return &cp, nil
}

func (r *Repository) Get(_ context.Context, id string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Repository) List(_ context.Context) ([]*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Claim は全クライアントのコントローラを切り替える
func (r *Repository) Claim(_ context.Context, controllerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		c.ControllerID = controllerID
	}
	return len(r.clients), nil
}

// OpenWindow は新しいウィンドウを開き, フォーカスを移す
func (r *Repository) OpenWindow(ctx context.Context, url string) (*domain.Client, error) {
	c, err := r.Register(ctx, url)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for id, other := range r.clients {
		other.Focused = id == c.ID
	}
	c.Focused = true
	r.mu.Unlock()

	return c, nil
}
