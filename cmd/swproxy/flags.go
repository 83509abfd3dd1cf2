package main

import (
	"github.com/spf13/cobra"

	"swproxy/internal/config"
)

// addStoreFlags はキャッシュストア関連のフラグを登録する
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "cache backend: memory, disk, bolt or sqlite (env SWPROXY_STORE)")
	cmd.Flags().String("store-path", "", "cache backend directory (env SWPROXY_STORE_PATH)")
}

// addServeFlags はサーバー関連のフラグを登録する
func addServeFlags(cmd *cobra.Command) {
	addStoreFlags(cmd)
	cmd.Flags().String("listen", "", "proxy listen address (env SWPROXY_LISTEN_ADDR)")
	cmd.Flags().String("admin", "", "admin and metrics listen address (env SWPROXY_ADMIN_ADDR)")
	cmd.Flags().String("upstream", "", "origin that serves the app (env SWPROXY_UPSTREAM)")
	cmd.Flags().String("strategy", "", "preset used when the worker file is created: network-first or cache-first (env SWPROXY_STRATEGY)")
	cmd.Flags().String("config-dir", "", "configuration directory (env SWPROXY_CONFIG_DIR)")
	cmd.Flags().String("worker-file", "", "worker config file (env SWPROXY_WORKER_FILE)")
	cmd.Flags().String("log-dir", "", "log directory (env SWPROXY_LOG_DIR)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn or error (env SWPROXY_LOG_LEVEL)")
}

// loadConfig は環境変数を読み込み, 指定されたフラグで上書きする
func loadConfig(cmd *cobra.Command) (*config.Server, error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"store":       &cfg.StoreKind,
		"store-path":  &cfg.StorePath,
		"listen":      &cfg.ListenAddr,
		"admin":       &cfg.AdminAddr,
		"upstream":    &cfg.Upstream,
		"strategy":    &cfg.Strategy,
		"config-dir":  &cfg.ConfigDir,
		"worker-file": &cfg.WorkerFile,
		"log-dir":     &cfg.LogDir,
		"log-level":   &cfg.LogLevel,
	}
	for name, target := range overrides {
		if cmd.Flags().Lookup(name) == nil || !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return nil, err
		}
		*target = v
	}
	return cfg, nil
}
