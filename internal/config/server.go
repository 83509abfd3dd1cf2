package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server はプロセス全体の設定 (環境変数 SWPROXY_*)
type Server struct {
	ListenAddr          string        `env:"LISTEN_ADDR" envDefault:":10080"`
	AdminAddr           string        `env:"ADMIN_ADDR" envDefault:":10081"`
	Upstream            string        `env:"UPSTREAM" envDefault:"http://localhost:8080"`
	ConfigDir           string        `env:"CONFIG_DIR" envDefault:"./configs"`
	WorkerFile          string        `env:"WORKER_FILE"`
	Strategy            string        `env:"STRATEGY" envDefault:"network-first"`
	StoreKind           string        `env:"STORE" envDefault:"disk"`
	StorePath           string        `env:"STORE_PATH" envDefault:"./cache"`
	MaxCacheSize        int64         `env:"MAX_CACHE_SIZE" envDefault:"104857600"`
	LogDir              string        `env:"LOG_DIR" envDefault:"./logs"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole          bool          `env:"LOG_CONSOLE" envDefault:"true"`
	MetricsSaveInterval time.Duration `env:"METRICS_SAVE_INTERVAL" envDefault:"1m"`
	RulesReload         time.Duration `env:"RULES_RELOAD" envDefault:"30s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// EnvPrefix は環境変数の接頭辞
const EnvPrefix = "SWPROXY_"

// LoadServer は環境変数から設定を読み込む
func LoadServer() (*Server, error) {
	return LoadServerFrom(nil)
}

// LoadServerFrom は指定された環境 (nilならプロセス環境) から設定を読み込む
func LoadServerFrom(environ map[string]string) (*Server, error) {
	var cfg Server
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// WorkerPath はワーカー設定ファイルのパスを返す
func (s *Server) WorkerPath() string {
	if s.WorkerFile != "" {
		return s.WorkerFile
	}
	return filepath.Join(s.ConfigDir, "worker.yaml")
}

// RulesPath はバイパスルールファイルのパスを返す
func (s *Server) RulesPath() string {
	return filepath.Join(s.ConfigDir, "bypass.yaml")
}

// PrepareDirectories は必要なディレクトリを作成する
func (s *Server) PrepareDirectories() error {
	for _, dir := range []string{s.ConfigDir, s.LogDir, s.StorePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
