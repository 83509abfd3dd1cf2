package domain

import (
	"context"
	"net/url"
	"time"
)

// EventKind はワーカーイベントの種別.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Event はワーカーへ配送されるイベント.
type Event interface {
	Kind() EventKind
}

// InstallEvent はインストールイベント.
type InstallEvent struct{}

// ActivateEvent はアクティベートイベント.
type ActivateEvent struct{}

// FetchEvent は横取りしたリクエストを運ぶ.
type FetchEvent struct {
	Request  *Request
	ClientID string
}

// MessageEvent はクライアントページからのメッセージ.
type MessageEvent struct {
	Data   Message
	Source string
}

// SyncEvent はバックグラウンド同期イベント.
type SyncEvent struct {
	Tag string
}

// PushEvent はプッシュ受信イベント.
type PushEvent struct {
	Data []byte
}

// NotificationClickEvent は通知クリックイベント.
type NotificationClickEvent struct {
	NotificationID string
	Action         string
}

func (InstallEvent) Kind() EventKind           { return EventInstall }
func (ActivateEvent) Kind() EventKind          { return EventActivate }
func (FetchEvent) Kind() EventKind             { return EventFetch }
func (MessageEvent) Kind() EventKind           { return EventMessage }
func (SyncEvent) Kind() EventKind              { return EventSync }
func (PushEvent) Kind() EventKind              { return EventPush }
func (NotificationClickEvent) Kind() EventKind { return EventNotificationClick }

// MessageType はコントロールメッセージの種別.
type MessageType string

const (
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	MessageClearCache  MessageType = "CLEAR_CACHE"
)

// Message はページからワーカーへのメッセージ.
type Message struct {
	Type MessageType `json:"type"`
}

// WorkerState はワーカーのライフサイクル状態.
type WorkerState string

const (
	StateParsed     WorkerState = "parsed"
	StateInstalling WorkerState = "installing"
	StateInstalled  WorkerState = "installed"
	StateActivating WorkerState = "activating"
	StateActivated  WorkerState = "activated"
	StateRedundant  WorkerState = "redundant"
)

// Strategy はリクエストをレスポンスに解決するキャッシュポリシー.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, ev *FetchEvent) (*Response, error)
}

const (
	StrategyNetworkFirst = "network-first"
	StrategyCacheFirst   = "cache-first"
)

// PrecacheMode はインストール時の一括キャッシュ失敗の扱い.
type PrecacheMode string

const (
	PrecacheStrict  PrecacheMode = "strict"
	PrecacheLenient PrecacheMode = "lenient"
)

// NotificationConfig は通知スタブの設定.
type NotificationConfig struct {
	Enabled     bool
	Title       string
	DefaultBody string
	Icon        string
	Badge       string
	Vibrate     []int
}

// WorkerConfig はワーカー1つ分の明示的な設定.
type WorkerConfig struct {
	CacheName    string
	Scope        *url.URL
	Assets       []string
	FallbackPath string
	Strategy     string
	Precache     PrecacheMode
	// SkipWaiting はインストール直後に待機をスキップして即座に有効化するか.
	SkipWaiting    bool
	BypassHosts    []string
	ControlChannel bool
	Notifications  NotificationConfig
	NetworkTimeout time.Duration
}

// Resolve はスコープ基準で相対パスを絶対URLに解決する.
func (c WorkerConfig) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	return c.Scope.ResolveReference(ref), nil
}
