package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"swproxy/internal/domain"
)

// ErrOffline はオフライン模擬中の取得失敗.
var ErrOffline = errors.New("network is offline")

const defaultMaxBodyBytes = 32 << 20

// hopHeaders は転送しないホップバイホップヘッダ.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config はネットワーククライアントの設定.
type Config struct {
	// Scope はワーカーの公開オリジン.
	Scope *url.URL
	// Upstream は同一オリジンのリクエストを実際に送る先. nil なら Scope のまま.
	Upstream     *url.URL
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// Client は domain.Fetcher の実装.
type Client struct {
	http     *http.Client
	scope    *url.URL
	upstream *url.URL
	maxBody  int64
	offline  atomic.Bool
}

var _ domain.Fetcher = (*Client)(nil)

// New は新しいClientを作成.
func New(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			// 圧縮されたボディはそのまま中継する
			DisableCompression: true,
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			// リダイレクトはページにそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		scope:    cfg.Scope,
		upstream: cfg.Upstream,
		maxBody:  cfg.MaxBodyBytes,
	}
}

// SetOffline はオフライン状態を切り替える.
func (c *Client) SetOffline(offline bool) {
	c.offline.Store(offline)
}

// Offline はオフライン模擬中かどうかを返す.
func (c *Client) Offline() bool {
	return c.offline.Load()
}

// Fetch はリクエストをネットワークへ送る.
func (c *Client) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if c.offline.Load() {
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: ErrOffline}
	}

	sameOrigin := c.scope != nil && req.Origin() == domain.Origin(c.scope)
	target := *req.URL
	target.Fragment = ""
	if sameOrigin && c.upstream != nil {
		target.Scheme = c.upstream.Scheme
		target.Host = c.upstream.Host
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: err}
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	removeHopHeaders(httpReq.Header)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: err}
	}
	if int64(len(data)) > c.maxBody {
		return nil, &domain.ErrFetchFailed{
			URL: req.URL.String(),
			Err: fmt.Errorf("response body exceeds %d bytes", c.maxBody),
		}
	}

	headers := httpResp.Header.Clone()
	removeHopHeaders(headers)

	respType := domain.ResponseTypeBasic
	if !sameOrigin {
		respType = domain.ResponseTypeCORS
	}

	return &domain.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       data,
		Type:       respType,
		Source:     domain.SourceNetwork,
		URL:        req.URL.String(),
		CreatedAt:  time.Now(),
	}, nil
}

func removeHopHeaders(h http.Header) {
	// Connection に列挙されたヘッダも取り除く
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
