package usecase

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"swproxy/internal/domain"
	"swproxy/internal/interface/repository/logger"
	"swproxy/internal/interface/repository/metrics"
)

func TestMetricsUseCaseSavesOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	repo := metrics.New(path)
	repo.RecordFetch(domain.StrategyCacheFirst, domain.SourceCache, time.Millisecond)
	repo.RecordCacheHit()

	uc := NewMetricsUseCase(repo, logger.NewNop(), MetricsConfig{SaveInterval: time.Hour})
	if err := uc.Start(); err != nil {
		t.Fatal(err)
	}
	if err := uc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// 二重停止は何もしない
	if err := uc.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	var snap domain.MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalRequests != 1 || snap.CacheHits != 1 || snap.CacheResponses != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}
