package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"swproxy/internal/config"
	"swproxy/internal/domain"
	"swproxy/internal/interface/handler"
	"swproxy/internal/interface/network"
	"swproxy/internal/interface/repository/access"
	"swproxy/internal/interface/repository/cache"
	"swproxy/internal/interface/repository/clients"
	"swproxy/internal/interface/repository/logger"
	"swproxy/internal/interface/repository/metrics"
	"swproxy/internal/interface/repository/notification"
	"swproxy/internal/usecase"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy and admin servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	addServeFlags(cmd)
	return cmd
}

func serve(cfg *config.Server) error {
	// ディレクトリの準備
	if err := cfg.PrepareDirectories(); err != nil {
		return err
	}

	// ロガーの初期化
	loggerRepo, err := logger.New(logger.Options{
		Directory: cfg.LogDir,
		Filename:  "swproxy.log",
		Level:     logger.ParseLevel(cfg.LogLevel),
		Console:   cfg.LogConsole,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	// ワーカー設定の読み込み
	workerFile, err := config.LoadWorker(cfg.WorkerPath(), cfg.Strategy)
	if err != nil {
		return fmt.Errorf("failed to load worker config: %w", err)
	}
	workerCfg, err := workerFile.ToDomain()
	if err != nil {
		return err
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil || !upstream.IsAbs() {
		return fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}

	// バイパスルールの初期化
	bypass, err := access.NewFromFile(cfg.RulesPath(), workerCfg.BypassHosts, loggerRepo, cfg.RulesReload)
	if err != nil {
		return err
	}
	defer bypass.Close()

	// キャッシュストアの初期化
	backend, err := cache.OpenBackend(cfg.StoreKind, cfg.StorePath, cfg.MaxCacheSize)
	if err != nil {
		loggerRepo.Error("Failed to initialize cache store", err, map[string]interface{}{
			"kind": cfg.StoreKind,
			"path": cfg.StorePath,
		})
		return err
	}
	defer backend.Close()
	caches := cache.NewStorage(backend)

	// メトリクスの初期化
	metricsRepo := metrics.New(filepath.Join(cfg.LogDir, "metrics.json"))

	netClient := network.New(network.Config{
		Scope:    workerCfg.Scope,
		Upstream: upstream,
	})
	clientRepo := clients.New()
	notifier := notification.New(loggerRepo)

	// 登録のたびにワーカー設定を読み直す
	loadWorker := func() (domain.WorkerConfig, error) {
		file, err := config.LoadWorker(cfg.WorkerPath(), cfg.Strategy)
		if err != nil {
			return domain.WorkerConfig{}, err
		}
		return file.ToDomain()
	}
	registration := usecase.NewRegistration(loggerRepo)
	updater := usecase.NewUpdater(registration, loadWorker, usecase.Deps{
		Caches:   caches,
		Network:  netClient,
		Clients:  clientRepo,
		Notifier: notifier,
		Bypass:   bypass,
		Metrics:  metricsRepo,
		Logger:   loggerRepo,
	})

	// インストールに失敗した場合は素通しで動作を続け, POST /sw/register で再試行する
	if _, err := updater.Update(context.Background()); err != nil {
		loggerRepo.Error("Worker registration failed, proxying without a worker", err, map[string]interface{}{
			"cache": workerCfg.CacheName,
		})
	}

	metricsUseCase := usecase.NewMetricsUseCase(metricsRepo, loggerRepo, usecase.MetricsConfig{
		SaveInterval: cfg.MetricsSaveInterval,
	})
	if err := metricsUseCase.Start(); err != nil {
		return err
	}

	// ハンドラーの作成
	proxyHandler := handler.NewProxyHandler(
		registration,
		netClient,
		usecase.NewTunnelUseCase(netClient, loggerRepo),
		workerCfg.Scope,
		loggerRepo,
	)
	adminRouter := handler.Router(
		handler.NewAdminHandler(registration, updater, caches, clientRepo, notifier, netClient, loggerRepo),
		handler.NewMetricsHandler(metricsUseCase, metricsRepo.Handler(), loggerRepo),
		loggerRepo,
	)

	proxyServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: proxyHandler,
	}
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminRouter,
	}

	// シャットダウンハンドラの設定
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// サーバーの起動
	go func() {
		loggerRepo.Info("Starting proxy server", map[string]interface{}{
			"addr":     cfg.ListenAddr,
			"scope":    workerCfg.Scope.String(),
			"upstream": upstream.String(),
			"strategy": workerCfg.Strategy,
		})
		if err := proxyServer.ListenAndServe(); err != http.ErrServerClosed {
			loggerRepo.Error("Proxy server error", err, nil)
			cancel()
		}
	}()

	go func() {
		loggerRepo.Info("Starting admin server", map[string]interface{}{"addr": cfg.AdminAddr})
		if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
			loggerRepo.Error("Admin server error", err, nil)
			cancel()
		}
	}()

	// シグナル待機
	select {
	case <-signalChan:
		loggerRepo.Info("Shutdown signal received", nil)
	case <-ctx.Done():
		loggerRepo.Info("Shutdown initiated", nil)
	}

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down proxy server", err, nil)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down admin server", err, nil)
	}

	// 書き戻し中のキャッシュを待ってから閉じる
	registration.Wait()
	if err := metricsUseCase.Stop(); err != nil {
		loggerRepo.Error("Failed to save metrics", err, nil)
	}

	loggerRepo.Info("Shutdown complete", nil)
	return nil
}
