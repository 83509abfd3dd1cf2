package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"swproxy/internal/domain"
)

// OfflineReporter はネットワークが遮断されているかを報告する
type OfflineReporter interface {
	Offline() bool
}

// TunnelUseCase はワーカーが横取りできないCONNECTトンネルを中継する
type TunnelUseCase struct {
	dialer  *net.Dialer
	network OfflineReporter
	logger  domain.Logger
}

// NewTunnelUseCase は新しいTunnelUseCaseインスタンスを作成
func NewTunnelUseCase(network OfflineReporter, logger domain.Logger) *TunnelUseCase {
	return &TunnelUseCase{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		network: network,
		logger:  logger,
	}
}

// Dial はトンネル先への接続を確立する
func (uc *TunnelUseCase) Dial(ctx context.Context, host string) (net.Conn, error) {
	if uc.network != nil && uc.network.Offline() {
		return nil, &domain.ErrFetchFailed{URL: host, Err: errors.New("network is offline")}
	}

	serverConn, err := uc.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: host, Err: err}
	}

	if tc, ok := serverConn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(30 * time.Second)
	}
	return serverConn, nil
}

// Relay はクライアントとサーバー間でデータを双方向に転送する
func (uc *TunnelUseCase) Relay(ctx context.Context, clientConn, serverConn net.Conn) error {
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	errc := make(chan error, 2)

	pipe := func(dst, src net.Conn, direction string) {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		if _, err := io.CopyBuffer(dst, src, buf); err != nil && !isConnectionClosed(err) {
			uc.logger.Error("Tunnel transfer failed", err, map[string]interface{}{
				"direction": direction,
			})
			errc <- err
		}
		// 送信側のコネクションをシャットダウン
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}

	go pipe(serverConn, clientConn, "client->server")
	go pipe(clientConn, serverConn, "server->client")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return fmt.Errorf("tunnel: %w", err)
	case <-done:
		return nil
	}
}

// isConnectionClosed は接続が正常に閉じられたかを判断
func isConnectionClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
