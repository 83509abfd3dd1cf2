package cache

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swproxy/internal/domain"
)

// Entry はバックエンドに保存されるキャッシュエントリを表す
type Entry struct {
	Key            string              `json:"key"`
	Method         string              `json:"method"`
	URL            string              `json:"url"`
	RequestHeaders map[string][]string `json:"request_headers,omitempty"`
	Status         int                 `json:"status"`
	Headers        map[string][]string `json:"headers"`
	Body           []byte              `json:"body"`
	Type           domain.ResponseType `json:"type"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NewEntry はリクエストとレスポンスから新しいEntryを作成
func NewEntry(req *domain.Request, resp *domain.Response) *Entry {
	e := &Entry{
		Key:       req.Key(),
		Method:    req.Method,
		URL:       req.URL.String(),
		Status:    resp.StatusCode,
		Headers:   resp.Headers.Clone(),
		Body:      append([]byte(nil), resp.Body...),
		Type:      resp.Type,
		CreatedAt: time.Now(),
	}

	// Vary に列挙されたリクエストヘッダのみ保持する
	for _, name := range varyHeaders(resp.Headers) {
		if e.RequestHeaders == nil {
			e.RequestHeaders = make(map[string][]string)
		}
		e.RequestHeaders[name] = req.Headers.Values(name)
	}

	return e
}

// Response はエントリをキャッシュ由来のレスポンスに変換
func (e *Entry) Response() *domain.Response {
	headers := http.Header(e.Headers).Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	return &domain.Response{
		StatusCode: e.Status,
		Headers:    headers,
		Body:       append([]byte(nil), e.Body...),
		Type:       e.Type,
		Source:     domain.SourceCache,
		URL:        e.URL,
		CreatedAt:  e.CreatedAt,
	}
}

// Request はエントリのリクエスト部分を復元
func (e *Entry) Request() (*domain.Request, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, err
	}
	req := domain.NewRequest(e.Method, u)
	for k, v := range e.RequestHeaders {
		req.Headers[k] = append([]string(nil), v...)
	}
	return req, nil
}

// MatchesVary は保存時の Vary ヘッダ値がリクエストと一致するか確認
func (e *Entry) MatchesVary(req *domain.Request) bool {
	for _, name := range varyHeaders(e.Headers) {
		if name == "*" {
			return false
		}
		stored := strings.Join(http.Header(e.RequestHeaders).Values(name), ",")
		if stored != strings.Join(req.Headers.Values(name), ",") {
			return false
		}
	}
	return true
}

func varyHeaders(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name != "*" {
				name = http.CanonicalHeaderKey(name)
			}
			names = append(names, name)
		}
	}
	return names
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
