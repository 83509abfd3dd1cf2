package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"swproxy/internal/domain"
)

const (
	// DefaultCacheName は既定のキャッシュ名 (バージョン)
	DefaultCacheName = "shop-admin-pwa-v1.0.0"
	// DefaultScope は既定のワーカースコープ
	DefaultScope = "http://localhost:10080/"
)

// DefaultAssets はインストール時にキャッシュするアセット
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"./icon-192.png",
	"./icon-512.png",
}

// DefaultBypassHosts はキャッシュを経由させない外部APIのホスト
var DefaultBypassHosts = []string{
	"script.google.com",
	"script.googleusercontent.com",
}

// Worker はワーカー設定ファイルの内容
type Worker struct {
	Strategy       string        `yaml:"strategy"`
	CacheName      string        `yaml:"cache_name"`
	Scope          string        `yaml:"scope"`
	Assets         []string      `yaml:"assets"`
	FallbackPath   string        `yaml:"fallback_path"`
	Precache       string        `yaml:"precache"`
	SkipWaiting    bool          `yaml:"skip_waiting"`
	BypassHosts    []string      `yaml:"bypass_hosts"`
	ControlChannel bool          `yaml:"control_channel"`
	NetworkTimeout time.Duration `yaml:"network_timeout"`
	Notifications  Notifications `yaml:"notifications"`
}

// Notifications は通知スタブの設定
type Notifications struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Icon    string `yaml:"icon"`
	Badge   string `yaml:"badge"`
	Vibrate []int  `yaml:"vibrate"`
}

// Preset は戦略名に対応する既定の設定を返す
func Preset(strategy string) (*Worker, error) {
	w := &Worker{
		Strategy:     strategy,
		CacheName:    DefaultCacheName,
		Scope:        DefaultScope,
		Assets:       append([]string(nil), DefaultAssets...),
		FallbackPath: "./index.html",
		SkipWaiting:  true,
		Notifications: Notifications{
			Title:   "Shop Admin",
			Body:    "New update available",
			Icon:    "./icon-192.png",
			Badge:   "./icon-72.png",
			Vibrate: []int{200, 100, 200},
		},
	}

	switch strategy {
	case domain.StrategyNetworkFirst:
		w.Precache = string(domain.PrecacheStrict)
		w.ControlChannel = true
		w.Notifications.Enabled = true
	case domain.StrategyCacheFirst:
		w.Precache = string(domain.PrecacheLenient)
		w.BypassHosts = append([]string(nil), DefaultBypassHosts...)
	default:
		return nil, fmt.Errorf("unknown strategy %q: %w", strategy, domain.ErrInvalidConfig)
	}
	return w, nil
}

// LoadWorker は設定ファイルを読み込む
// ファイルがなければ指定戦略のプリセットで作成する
func LoadWorker(path, strategy string) (*Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultWorker(path, strategy)
		}
		return nil, err
	}

	// 省略された項目はプリセットで補う
	base := strategy
	var head struct {
		Strategy string `yaml:"strategy"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if head.Strategy != "" {
		base = head.Strategy
	}

	w, err := Preset(base)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func createDefaultWorker(path, strategy string) (*Worker, error) {
	w, err := Preset(strategy)
	if err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(w)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return w, nil
}

// Validate は設定値を検証する
func (w *Worker) Validate() error {
	var problems []string

	switch w.Strategy {
	case domain.StrategyNetworkFirst, domain.StrategyCacheFirst:
	default:
		problems = append(problems, fmt.Sprintf("unknown strategy %q", w.Strategy))
	}

	switch domain.PrecacheMode(w.Precache) {
	case domain.PrecacheStrict, domain.PrecacheLenient:
	default:
		problems = append(problems, fmt.Sprintf("unknown precache mode %q", w.Precache))
	}

	if strings.TrimSpace(w.CacheName) == "" {
		problems = append(problems, "cache_name is required")
	}

	if u, err := url.Parse(w.Scope); err != nil || !u.IsAbs() || u.Host == "" {
		problems = append(problems, fmt.Sprintf("scope %q must be an absolute URL", w.Scope))
	}

	if w.NetworkTimeout < 0 {
		problems = append(problems, "network_timeout must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ToDomain はワーカー初期化用の設定に変換する
func (w *Worker) ToDomain() (domain.WorkerConfig, error) {
	if err := w.Validate(); err != nil {
		return domain.WorkerConfig{}, err
	}

	scope, err := url.Parse(w.Scope)
	if err != nil {
		return domain.WorkerConfig{}, err
	}
	// 相対パスの解決基準とするため末尾はディレクトリにする
	if !strings.HasSuffix(scope.Path, "/") {
		scope.Path += "/"
	}

	return domain.WorkerConfig{
		CacheName:      w.CacheName,
		Scope:          scope,
		Assets:         append([]string(nil), w.Assets...),
		FallbackPath:   w.FallbackPath,
		Strategy:       w.Strategy,
		Precache:       domain.PrecacheMode(w.Precache),
		SkipWaiting:    w.SkipWaiting,
		BypassHosts:    append([]string(nil), w.BypassHosts...),
		ControlChannel: w.ControlChannel,
		NetworkTimeout: w.NetworkTimeout,
		Notifications: domain.NotificationConfig{
			Enabled:     w.Notifications.Enabled,
			Title:       w.Notifications.Title,
			DefaultBody: w.Notifications.Body,
			Icon:        w.Notifications.Icon,
			Badge:       w.Notifications.Badge,
			Vibrate:     append([]int(nil), w.Notifications.Vibrate...),
		},
	}, nil
}
