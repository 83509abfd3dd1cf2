package usecase

import (
	"context"
	"fmt"

	"swproxy/internal/domain"
)

// handleMessage はページからのコントロールメッセージを処理する
// 未知のメッセージは無視する
func (w *Worker) handleMessage(ctx context.Context, ev domain.Event) (*domain.Response, error) {
	me, ok := ev.(*domain.MessageEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected message event %T", ev)
	}

	switch me.Data.Type {
	case domain.MessageSkipWaiting:
		return nil, w.SkipWaiting(ctx)
	case domain.MessageClearCache:
		_, err := w.ClearCaches(ctx)
		return nil, err
	default:
		w.deps.Logger.Debug("Ignoring unknown message", map[string]interface{}{
			"type":   string(me.Data.Type),
			"source": me.Source,
		})
		return nil, nil
	}
}

// ClearCaches は全キャッシュを無条件に削除し, 削除した名前を返す
func (w *Worker) ClearCaches(ctx context.Context) ([]string, error) {
	names, err := w.deps.Caches.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	deleted := make([]string, 0, len(names))
	for _, name := range names {
		ok, err := w.deps.Caches.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete cache %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
			w.deps.Metrics.RecordCacheDeleted(name)
		}
	}

	w.deps.Logger.Info("All caches cleared", map[string]interface{}{
		"worker":  w.id,
		"deleted": len(deleted),
	})
	return deleted, nil
}
