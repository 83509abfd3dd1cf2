package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	RecordFetch(strategy string, source ResponseSource, elapsed time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheWrite()
	RecordNetworkError()
	RecordCacheDeleted(name string)
	RecordLifecycle(event EventKind, outcome string)
	Snapshot() *MetricsSnapshot
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	StartTime       time.Time `json:"start_time"`
	TotalRequests   int64     `json:"total_requests"`
	NetworkHits     int64     `json:"network_responses"`
	CacheResponses  int64     `json:"cache_responses"`
	SyntheticHits   int64     `json:"synthetic_responses"`
	CacheHits       int64     `json:"cache_hits"`
	CacheMisses     int64     `json:"cache_misses"`
	CacheWrites     int64     `json:"cache_writes"`
	CachesDeleted   int64     `json:"caches_deleted"`
	NetworkErrors   int64     `json:"network_errors"`
	LifecycleEvents int64     `json:"lifecycle_events"`
	Uptime          string    `json:"uptime"`
}

// Logger はロギングのインターフェース.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
