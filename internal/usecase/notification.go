package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swproxy/internal/domain"
)

// SyncTag はバックグラウンド同期で扱うタグ
const SyncTag = "sync-data"

// handlePush はプッシュのペイロードを通知として表示する
func (w *Worker) handlePush(ctx context.Context, ev domain.Event) (*domain.Response, error) {
	pe, ok := ev.(*domain.PushEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected push event %T", ev)
	}

	nc := w.cfg.Notifications
	body := string(pe.Data)
	if body == "" {
		body = nc.DefaultBody
	}

	n, err := w.deps.Notifier.Show(ctx, nc.Title, domain.NotificationOptions{
		Body:    body,
		Icon:    nc.Icon,
		Badge:   nc.Badge,
		Vibrate: append([]int(nil), nc.Vibrate...),
		Data: map[string]any{
			"dateOfArrival": time.Now().UnixMilli(),
			"primaryKey":    1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("show notification: %w", err)
	}

	w.deps.Logger.Debug("Push handled", map[string]interface{}{
		"notification": n.ID,
	})
	return nil, nil
}

// handleNotificationClick は通知を閉じてアプリのルートを開く
func (w *Worker) handleNotificationClick(ctx context.Context, ev domain.Event) (*domain.Response, error) {
	ce, ok := ev.(*domain.NotificationClickEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected notificationclick event %T", ev)
	}

	if err := w.deps.Notifier.Close(ctx, ce.NotificationID); err != nil {
		if !errors.Is(err, domain.ErrNotificationNotFound) {
			return nil, fmt.Errorf("close notification: %w", err)
		}
		w.deps.Logger.Warn("Clicked notification not found", map[string]interface{}{
			"notification": ce.NotificationID,
		})
	}

	root, err := w.cfg.Resolve("./")
	if err != nil {
		return nil, err
	}
	client, err := w.deps.Clients.OpenWindow(ctx, root.String())
	if err != nil {
		return nil, fmt.Errorf("open window: %w", err)
	}

	w.deps.Logger.Info("Opened window from notification", map[string]interface{}{
		"notification": ce.NotificationID,
		"action":       ce.Action,
		"client":       client.ID,
		"url":          client.URL,
	})
	return nil, nil
}

// handleSync は同期タグを受け付ける (処理は未実装のため何もしない)
func (w *Worker) handleSync(_ context.Context, ev domain.Event) (*domain.Response, error) {
	se, ok := ev.(*domain.SyncEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected sync event %T", ev)
	}

	if se.Tag != SyncTag {
		w.deps.Logger.Debug("Ignoring sync tag", map[string]interface{}{
			"tag": se.Tag,
		})
		return nil, nil
	}

	w.deps.Logger.Info("Background sync", map[string]interface{}{
		"tag": se.Tag,
	})
	return nil, nil
}
