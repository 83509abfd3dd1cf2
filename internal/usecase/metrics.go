package usecase

import (
	"fmt"
	"sync"
	"time"

	"swproxy/internal/domain"
)

// MetricsUseCase はメトリクスの定期保存を行う
type MetricsUseCase struct {
	metrics      domain.MetricsCollector
	logger       domain.Logger
	saveInterval time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// MetricsConfig はメトリクスの設定を表す
type MetricsConfig struct {
	SaveInterval time.Duration
}

// snapshotSaver はスナップショットを永続化できるコレクタ
type snapshotSaver interface {
	SaveMetrics(*domain.MetricsSnapshot) error
}

// NewMetricsUseCase は新しいMetricsUseCaseインスタンスを作成
func NewMetricsUseCase(
	metrics domain.MetricsCollector, logger domain.Logger, config MetricsConfig,
) *MetricsUseCase {
	if config.SaveInterval == 0 {
		config.SaveInterval = 1 * time.Minute
	}

	return &MetricsUseCase{
		metrics:      metrics,
		logger:       logger,
		saveInterval: config.SaveInterval,
		done:         make(chan struct{}),
	}
}

// Start はメトリクスの定期保存を開始
func (uc *MetricsUseCase) Start() error {
	uc.logger.Info("Starting metrics collection", map[string]interface{}{
		"save_interval": uc.saveInterval.String(),
	})
	go uc.startPeriodicSave()
	return nil
}

// Stop はメトリクス収集を停止し, 最後のスナップショットを保存する
func (uc *MetricsUseCase) Stop() error {
	var err error
	uc.stopOnce.Do(func() {
		uc.logger.Info("Stopping metrics collection", nil)
		close(uc.done)
		err = uc.saveMetrics()
	})
	return err
}

// startPeriodicSave は定期的なメトリクス保存を開始
func (uc *MetricsUseCase) startPeriodicSave() {
	ticker := time.NewTicker(uc.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := uc.saveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
		case <-uc.done:
			return
		}
	}
}

// saveMetrics は現在のメトリクスを保存
func (uc *MetricsUseCase) saveMetrics() error {
	saver, ok := uc.metrics.(snapshotSaver)
	if !ok {
		return nil
	}
	if err := saver.SaveMetrics(uc.Snapshot()); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

// Snapshot は現在のメトリクスのスナップショットを取得
func (uc *MetricsUseCase) Snapshot() *domain.MetricsSnapshot {
	return uc.metrics.Snapshot()
}

// nopMetrics はメトリクスを記録しないコレクタ
type nopMetrics struct{}

var _ domain.MetricsCollector = nopMetrics{}

func (nopMetrics) RecordFetch(string, domain.ResponseSource, time.Duration) {}
func (nopMetrics) RecordCacheHit()                                          {}
func (nopMetrics) RecordCacheMiss()                                         {}
func (nopMetrics) RecordCacheWrite()                                        {}
func (nopMetrics) RecordNetworkError()                                      {}
func (nopMetrics) RecordCacheDeleted(string)                                {}
func (nopMetrics) RecordLifecycle(domain.EventKind, string)                 {}
func (nopMetrics) Snapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{Timestamp: time.Now()}
}
