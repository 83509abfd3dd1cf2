package metrics

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swproxy/internal/domain"
)

const namespace = "swproxy"

// Repository はメトリクスのリポジトリ実装
type Repository struct {
	mu          sync.Mutex
	metricsFile string
	startTime   time.Time
	registry    *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheWrites     prometheus.Counter
	networkErrors   prometheus.Counter
	cachesDeleted   *prometheus.CounterVec
	lifecycleEvents *prometheus.CounterVec

	// JSONスナップショット用のカウンタ
	requests   int64
	network    int64
	cached     int64
	synthetic  int64
	hits       int64
	misses     int64
	writes     int64
	deleted    int64
	errors     int64
	lifecycles int64
}

// インターフェースの実装を検証
var _ domain.MetricsCollector = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(metricsFile string) *Repository {
	r := &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
		registry:    prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Total number of intercepted fetches by strategy and response source",
		}, []string{"strategy", "source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to resolve an intercepted fetch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"strategy"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}),
		cacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of responses written to the cache",
		}),
		networkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_errors_total",
			Help:      "Total number of network-level fetch failures",
		}),
		cachesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caches_deleted_total",
			Help:      "Total number of deleted caches",
		}, []string{"cache"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Total number of dispatched lifecycle events by outcome",
		}, []string{"event", "outcome"}),
	}

	r.registry.MustRegister(
		r.fetchTotal,
		r.fetchDuration,
		r.cacheHits,
		r.cacheMisses,
		r.cacheWrites,
		r.networkErrors,
		r.cachesDeleted,
		r.lifecycleEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Registry はPrometheusレジストリを返す
func (r *Repository) Registry() *prometheus.Registry {
	return r.registry
}

// Handler は /metrics 用のハンドラを返す
func (r *Repository) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SaveMetrics はメトリクスをファイルに保存
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

// 以下、MetricsCollector インターフェースの実装
func (r *Repository) RecordFetch(strategy string, source domain.ResponseSource, elapsed time.Duration) {
	r.fetchTotal.WithLabelValues(strategy, string(source)).Inc()
	r.fetchDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	atomic.AddInt64(&r.requests, 1)
	switch source {
	case domain.SourceNetwork:
		atomic.AddInt64(&r.network, 1)
	case domain.SourceCache:
		atomic.AddInt64(&r.cached, 1)
	case domain.SourceSynthetic:
		atomic.AddInt64(&r.synthetic, 1)
	}
}

func (r *Repository) RecordCacheHit() {
	r.cacheHits.Inc()
	atomic.AddInt64(&r.hits, 1)
}

func (r *Repository) RecordCacheMiss() {
	r.cacheMisses.Inc()
	atomic.AddInt64(&r.misses, 1)
}

func (r *Repository) RecordCacheWrite() {
	r.cacheWrites.Inc()
	atomic.AddInt64(&r.writes, 1)
}

func (r *Repository) RecordNetworkError() {
	r.networkErrors.Inc()
	atomic.AddInt64(&r.errors, 1)
}

func (r *Repository) RecordCacheDeleted(name string) {
	r.cachesDeleted.WithLabelValues(name).Inc()
	atomic.AddInt64(&r.deleted, 1)
}

func (r *Repository) RecordLifecycle(event domain.EventKind, outcome string) {
	r.lifecycleEvents.WithLabelValues(string(event), outcome).Inc()
	atomic.AddInt64(&r.lifecycles, 1)
}

func (r *Repository) Snapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:       time.Now(),
		StartTime:       r.startTime,
		TotalRequests:   atomic.LoadInt64(&r.requests),
		NetworkHits:     atomic.LoadInt64(&r.network),
		CacheResponses:  atomic.LoadInt64(&r.cached),
		SyntheticHits:   atomic.LoadInt64(&r.synthetic),
		CacheHits:       atomic.LoadInt64(&r.hits),
		CacheMisses:     atomic.LoadInt64(&r.misses),
		CacheWrites:     atomic.LoadInt64(&r.writes),
		CachesDeleted:   atomic.LoadInt64(&r.deleted),
		NetworkErrors:   atomic.LoadInt64(&r.errors),
		LifecycleEvents: atomic.LoadInt64(&r.lifecycles),
		Uptime:          time.Since(r.startTime).String(),
	}
}
