package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swproxy/internal/domain"
)

// Options はロガーの生成オプション.
type Options struct {
	Directory string
	Filename  string
	Level     LogLevel
	Console   bool
	Rotation  *RotationConfig
}

// Repository はzapを使ったロガーのリポジトリ実装.
type Repository struct {
	zl     *zap.Logger
	writer *rotatingWriter
	done   chan struct{}
	once   sync.Once
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
func New(opts Options) (*Repository, error) {
	if opts.Rotation == nil {
		opts.Rotation = DefaultRotationConfig()
	}
	if opts.Level == "" {
		opts.Level = INFO
	}

	level := zap.NewAtomicLevelAt(opts.Level.zapLevel())
	var cores []zapcore.Core
	r := &Repository{done: make(chan struct{})}

	if opts.Directory != "" {
		if err := os.MkdirAll(opts.Directory, 0755); err != nil {
			return nil, err
		}
		if opts.Filename == "" {
			opts.Filename = "swproxy.log"
		}
		w, err := newRotatingWriter(filepath.Join(opts.Directory, opts.Filename), opts.Rotation)
		if err != nil {
			return nil, err
		}
		r.writer = w
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, level))

		// ログクリーンアップを定期的に実行
		go r.periodicCleanup(w.path, opts.Rotation)
	}

	if opts.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	r.zl = zap.New(zapcore.NewTee(cores...))
	return r, nil
}

// Wrap は既存のzapロガーを domain.Logger として包む.
func Wrap(zl *zap.Logger) *Repository {
	return &Repository{zl: zl, done: make(chan struct{})}
}

// NewNop は何も出力しないロガーを返す.
func NewNop() *Repository {
	return Wrap(zap.NewNop())
}

// Zap は内部のzapロガーを返す.
func (r *Repository) Zap() *zap.Logger {
	return r.zl
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.zl.Debug(msg, toZapFields(nil, fields)...)
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.zl.Info(msg, toZapFields(nil, fields)...)
}

// Warn はWARNレベルのログを記録.
func (r *Repository) Warn(msg string, fields map[string]interface{}) {
	r.zl.Warn(msg, toZapFields(nil, fields)...)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.zl.Error(msg, toZapFields(err, fields)...)
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup(path string, config *RotationConfig) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(path, config)
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	r.once.Do(func() { close(r.done) })
	_ = r.zl.Sync()
	if r.writer != nil {
		return r.writer.Close()
	}
	return nil
}
