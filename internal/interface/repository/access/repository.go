package access

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"swproxy/internal/domain"
)

// Repository はキャッシュを経由させないホストのルール実装
// "*.example.com" はサブドメイン一致, それ以外はホスト名の部分一致
type Repository struct {
	mu         sync.RWMutex
	configFile string
	static     []string
	patterns   []string
	logger     domain.Logger
	done       chan struct{}
	once       sync.Once
}

var _ domain.HostMatcher = (*Repository)(nil)

// New は固定パターンから新しいRepositoryインスタンスを作成
func New(patterns []string, logger domain.Logger) *Repository {
	static := normalize(patterns)
	return &Repository{
		static:   static,
		patterns: static,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// NewFromFile は固定パターンに加えてYAMLファイルのルールを読み込み, 変更を監視する
func NewFromFile(configFile string, patterns []string, logger domain.Logger, interval time.Duration) (*Repository, error) {
	r := New(patterns, logger)
	r.configFile = configFile

	// 初期ロード
	if err := r.loadConfig(); err != nil {
		return nil, err
	}

	if interval > 0 {
		// 設定の自動リロードを開始
		go r.watchConfig(interval)
	}

	return r, nil
}

// Matches は指定されたホストがバイパス対象か確認
func (r *Repository) Matches(host string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	for _, p := range r.patterns {
		if strings.HasPrefix(p, "*.") {
			// ワイルドカードドメインのチェック
			if strings.HasSuffix(host, p[1:]) {
				return true
			}
			continue
		}
		if strings.Contains(host, p) {
			return true
		}
	}
	return false
}

// Patterns は現在有効なパターンを返す
func (r *Repository) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.patterns...)
}

// Reload は設定を再読み込み
func (r *Repository) Reload() error {
	if r.configFile == "" {
		return nil
	}
	return r.loadConfig()
}

// Close は設定の監視を停止
func (r *Repository) Close() {
	r.once.Do(func() { close(r.done) })
}

// loadConfig は設定ファイルから設定を読み込む
func (r *Repository) loadConfig() error {
	config, err := loadConfigFile(r.configFile)
	if err != nil {
		return fmt.Errorf("failed to load bypass rules: %w", err)
	}

	patterns := append(append([]string(nil), r.static...), normalize(config.BypassHosts)...)

	r.mu.Lock()
	r.patterns = patterns
	r.mu.Unlock()

	r.logger.Info("Loaded bypass host rules", map[string]interface{}{
		"file":     r.configFile,
		"patterns": len(patterns),
	})
	return nil
}

// watchConfig は設定ファイルの変更を監視
func (r *Repository) watchConfig(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastModTime time.Time
	if stat, err := os.Stat(r.configFile); err == nil {
		lastModTime = stat.ModTime()
	}

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		stat, err := os.Stat(r.configFile)
		if err != nil {
			r.logger.Error("Error checking bypass rules file", err, nil)
			continue
		}

		if stat.ModTime().After(lastModTime) {
			if err := r.loadConfig(); err != nil {
				r.logger.Error("Error reloading bypass rules", err, nil)
				continue
			}
			lastModTime = stat.ModTime()
		}
	}
}
