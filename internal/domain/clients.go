package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Client はワーカーが制御するページを表す.
type Client struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ControllerID string    `json:"controller_id,omitempty"`
	Focused      bool      `json:"focused"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clients は制御対象ページの管理インターフェース.
type Clients interface {
	Register(ctx context.Context, url string) (*Client, error)
	Get(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
	// Claim は全クライアントのコントローラを指定ワーカーに切り替え, 件数を返す.
	Claim(ctx context.Context, controllerID string) (int, error)
	OpenWindow(ctx context.Context, url string) (*Client, error)
}

// NotificationOptions は通知の表示オプション.
type NotificationOptions struct {
	Body    string         `json:"body"`
	Icon    string         `json:"icon"`
	Badge   string         `json:"badge"`
	Vibrate []int          `json:"vibrate"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notification は表示中または閉じた通知.
type Notification struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Options   NotificationOptions `json:"options"`
	Closed    bool                `json:"closed"`
	CreatedAt time.Time           `json:"created_at"`
}

// Notifier は通知表示のインターフェース.
type Notifier interface {
	Show(ctx context.Context, title string, opts NotificationOptions) (*Notification, error)
	Get(ctx context.Context, id string) (*Notification, error)
	Close(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Notification, error)
}
