package domain

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Destination はリクエストの取得先種別を表す (Sec-Fetch-Dest 相当).
type Destination string

const (
	DestinationEmpty    Destination = "empty"
	DestinationDocument Destination = "document"
	DestinationImage    Destination = "image"
	DestinationScript   Destination = "script"
	DestinationStyle    Destination = "style"
	DestinationManifest Destination = "manifest"
)

// RequestMode はリクエストモードを表す (Sec-Fetch-Mode 相当).
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeCORS       RequestMode = "cors"
	ModeNoCORS     RequestMode = "no-cors"
	ModeSameOrigin RequestMode = "same-origin"
)

// Request はワーカーが横取りするリクエストを表す.
type Request struct {
	ID          string
	ClientID    string
	Method      string
	URL         *url.URL
	Headers     http.Header
	Body        []byte
	Destination Destination
	Mode        RequestMode
	CreatedAt   time.Time
}

// NewRequest はGETリクエストを作成する.
func NewRequest(method string, u *url.URL) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method:      strings.ToUpper(method),
		URL:         u,
		Headers:     make(http.Header),
		Destination: DestinationEmpty,
		Mode:        ModeNoCORS,
		CreatedAt:   time.Now(),
	}
}

// IsNavigation はページ遷移リクエストかどうかを返す.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate || r.Destination == DestinationDocument
}

// Key はリクエストの同一性を表すキャッシュキーを返す.
func (r *Request) Key() string {
	return RequestKey(r.Method, r.URL)
}

// Origin はリクエストURLのオリジンを返す.
func (r *Request) Origin() string {
	return Origin(r.URL)
}

// RequestKey はメソッドとフラグメントを除いたURLからキーを作る.
func RequestKey(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return strings.ToUpper(method) + " " + clean.String()
}

// Origin はURLのscheme://host部分を小文字で返す.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// ResponseType はレスポンスの種別を表す.
type ResponseType string

const (
	ResponseTypeBasic  ResponseType = "basic"
	ResponseTypeCORS   ResponseType = "cors"
	ResponseTypeOpaque ResponseType = "opaque"
	ResponseTypeError  ResponseType = "error"
)

// ResponseSource はレスポンスの出所を表す.
type ResponseSource string

const (
	SourceNetwork   ResponseSource = "network"
	SourceCache     ResponseSource = "cache"
	SourceSynthetic ResponseSource = "synthetic"
)

// Response はワーカーが返すレスポンスを表す.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Type       ResponseType
	Source     ResponseSource
	URL        string
	CreatedAt  time.Time
}

// OK はステータスが2xxかどうかを返す.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone はレスポンスのディープコピーを返す.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Fetcher はネットワーク境界のインターフェース.
// エラーはネットワークレベルの失敗のみを表し, HTTPエラーはレスポンスとして返す.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}
