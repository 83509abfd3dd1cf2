package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"swproxy/internal/domain"
)

// バックエンド種別
const (
	KindMemory = "memory"
	KindDisk   = "disk"
	KindBolt   = "bolt"
	KindSQLite = "sqlite"
)

// OpenBackend は種別に応じたバックエンドを開く
// path は disk ではディレクトリ, bolt と sqlite ではディレクトリ内のファイルを指す
func OpenBackend(kind, path string, maxSize int64) (domain.CacheBackend, error) {
	switch kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindDisk:
		return New(path, maxSize)
	case KindBolt:
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		return OpenBolt(filepath.Join(path, "caches.db"))
	case KindSQLite:
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		return OpenSQLite(filepath.Join(path, "caches.sqlite"))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", kind)
	}
}
