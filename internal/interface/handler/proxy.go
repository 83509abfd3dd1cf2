package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"swproxy/internal/domain"
	"swproxy/internal/usecase"
)

// SourceHeader はレスポンスの出所を示すヘッダ
const SourceHeader = "X-SW-Source"

// ClientHeader はリクエスト元ページのIDを運ぶヘッダ
const ClientHeader = "X-SW-Client"

const maxRequestBody = 10 << 20

var errBodyTooLarge = errors.New("request body too large")

// ProxyHandler は受け取ったリクエストを有効なワーカーに配送する
type ProxyHandler struct {
	registration *usecase.Registration
	network      domain.Fetcher
	tunnel       *usecase.TunnelUseCase
	scope        *url.URL
	logger       domain.Logger
}

// NewProxyHandler は新しいProxyHandlerインスタンスを作成
func NewProxyHandler(
	registration *usecase.Registration,
	network domain.Fetcher,
	tunnel *usecase.TunnelUseCase,
	scope *url.URL,
	logger domain.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		registration: registration,
		network:      network,
		tunnel:       tunnel,
		scope:        scope,
		logger:       logger,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleConnect(w, r)
		return
	}

	req, err := h.toDomainRequest(r)
	if err != nil {
		h.logger.Warn("Rejected request", map[string]interface{}{
			"method": r.Method,
			"url":    r.URL.String(),
			"error":  err.Error(),
		})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp *domain.Response
	if worker := h.registration.Active(); worker != nil {
		resp, err = worker.Fetch(r.Context(), req)
	} else {
		// 制御中のワーカーがなければそのまま転送
		resp, err = h.network.Fetch(r.Context(), req)
	}
	if err != nil {
		h.logger.Error("Fetch failed", err, map[string]interface{}{
			"method": req.Method,
			"url":    req.URL.String(),
		})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	writeResponse(w, req, resp)
}

// toDomainRequest はHTTPリクエストをワーカーのリクエストに変換する
func (h *ProxyHandler) toDomainRequest(r *http.Request) (*domain.Request, error) {
	target := *r.URL
	if !target.IsAbs() {
		// リバースプロキシとしてスコープのオリジンで受けたリクエスト
		target.Scheme = h.scope.Scheme
		target.Host = h.scope.Host
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}

	req := domain.NewRequest(r.Method, &target)
	req.Headers = r.Header.Clone()
	req.Body = body
	req.ClientID = r.Header.Get(ClientHeader)
	req.Headers.Del(ClientHeader)

	req.Mode, req.Destination = fetchMetadata(r)
	return req, nil
}

// fetchMetadata は Sec-Fetch-* ヘッダからモードと宛先を決める
// ヘッダがない場合は Accept: text/html のGETをページ遷移とみなす
func fetchMetadata(r *http.Request) (domain.RequestMode, domain.Destination) {
	mode := domain.RequestMode(r.Header.Get("Sec-Fetch-Mode"))
	dest := domain.Destination(r.Header.Get("Sec-Fetch-Dest"))

	if mode == "" && dest == "" {
		if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
			return domain.ModeNavigate, domain.DestinationDocument
		}
		return domain.ModeNoCORS, domain.DestinationEmpty
	}
	if mode == "" {
		mode = domain.ModeNoCORS
	}
	if dest == "empty" {
		dest = domain.DestinationEmpty
	}
	return mode, dest
}

// writeResponse はワーカーのレスポンスを書き出す
func writeResponse(w http.ResponseWriter, req *domain.Request, resp *domain.Response) {
	header := w.Header()
	for k, v := range resp.Headers {
		header[k] = append([]string(nil), v...)
	}
	header.Del("Content-Length")
	header.Set(SourceHeader, string(resp.Source))

	if req.Method == http.MethodHead {
		w.WriteHeader(resp.StatusCode)
		return
	}

	if bodyAllowed(resp.StatusCode) {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.StatusCode)
	if bodyAllowed(resp.StatusCode) {
		w.Write(resp.Body)
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// handleConnect はHTTPSトンネルを中継する
// 暗号化された通信はワーカーで横取りできないため常にネットワークを使う
func (h *ProxyHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	serverConn, err := h.tunnel.Dial(r.Context(), r.Host)
	if err != nil {
		h.logger.Warn("Tunnel dial failed", map[string]interface{}{
			"host":  r.Host,
			"error": err.Error(),
		})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		serverConn.Close()
		h.logger.Error("Hijacking not supported", nil, nil)
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		serverConn.Close()
		h.logger.Error("Hijacking failed", err, nil)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	// 重要: 200 Connection Established レスポンスを送信
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		serverConn.Close()
		h.logger.Error("Failed to write connection established response", err, nil)
		return
	}

	if err := h.tunnel.Relay(r.Context(), clientConn, serverConn); err != nil {
		h.logger.Error("Tunnel handling failed", err, map[string]interface{}{
			"host": r.Host,
		})
	}
}
