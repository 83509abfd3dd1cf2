package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"swproxy/internal/domain"
)

// Repository は表示された通知をメモリ上に保持する
type Repository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	logger        domain.Logger
}

var _ domain.Notifier = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(logger domain.Logger) *Repository {
	return &Repository{
		notifications: make(map[string]*domain.Notification),
		logger:        logger,
	}
}

// Show は通知を表示する
func (r *Repository) Show(_ context.Context, title string, opts domain.NotificationOptions) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Options:   opts,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.notifications[n.ID] = n
	r.mu.Unlock()

	r.logger.Info("Notification shown", map[string]interface{}{
		"id":    n.ID,
		"title": title,
		"body":  opts.Body,
	})

	cp := *n
	return &cp, nil
}

func (r *Repository) Get(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

// Close は通知を閉じる
func (r *Repository) Close(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Closed = true
	return nil
}

func (r *Repository) List(_ context.Context) ([]*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
