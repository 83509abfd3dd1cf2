package cache

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"swproxy/internal/domain"
)

const entrySuffix = ".gz"

// createdFile はバケットの作成連番を記録するファイル
const createdFile = "created"

// Repository はディスク上のバックエンド実装
// バケットはディレクトリ, エントリは gzip 圧縮したファイルとして保存する
type Repository struct {
	mu       sync.RWMutex
	baseDir  string
	maxSize  int64
	currSize int64
	lastSeq  int64
}

// Verify interface implementation
var _ domain.CacheBackend = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
// maxSize が0以下の場合は容量制限なし
func New(baseDir string, maxSize int64) (*Repository, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	r := &Repository{
		baseDir: baseDir,
		maxSize: maxSize,
	}

	// 既存ファイルのサイズを集計
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == createdFile {
			if seq := readCreated(filepath.Dir(path)); seq != math.MaxInt64 && seq > r.lastSeq {
				r.lastSeq = seq
			}
			return nil
		}
		if !strings.HasSuffix(path, entrySuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		r.currSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Repository) CreateBucket(_ context.Context, bucket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.bucketExists(bucket)
	if err != nil || exists {
		return err
	}
	if err := os.MkdirAll(r.bucketDir(bucket), 0755); err != nil {
		return err
	}

	// 時計が戻っても作成順が崩れないようにする
	seq := time.Now().UnixNano()
	if seq <= r.lastSeq {
		seq = r.lastSeq + 1
	}
	r.lastSeq = seq
	return os.WriteFile(filepath.Join(r.bucketDir(bucket), createdFile), []byte(strconv.FormatInt(seq, 10)), 0644)
}

func (r *Repository) HasBucket(_ context.Context, bucket string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bucketExists(bucket)
}

func (r *Repository) Buckets(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dirs, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}

	type created struct {
		name string
		seq  int64
	}
	var list []created
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		name, err := hex.DecodeString(d.Name())
		if err != nil {
			continue // 管理外のディレクトリ
		}
		list = append(list, created{name: string(name), seq: readCreated(filepath.Join(r.baseDir, d.Name()))})
	}

	// 作成順, 同順位は名前順
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].seq < list[j].seq
	})
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.name)
	}
	return names, nil
}

func (r *Repository) DeleteBucket(_ context.Context, bucket string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.bucketExists(bucket)
	if err != nil || !exists {
		return false, err
	}

	size, err := dirSize(r.bucketDir(bucket))
	if err != nil {
		return false, err
	}
	if err := os.RemoveAll(r.bucketDir(bucket)); err != nil {
		return false, err
	}
	r.currSize -= size
	return true, nil
}

// Get はキャッシュからデータを取得
func (r *Repository) Get(_ context.Context, bucket, key string) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, err := os.ReadFile(r.entryPath(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	storedKey, data, err := decodeFile(raw)
	if err != nil {
		return nil, false, err
	}
	if storedKey != key {
		// ハッシュ衝突
		return nil, false, nil
	}
	return data, true, nil
}

// PutBatch は全エントリを一時ファイルに書き出してから置き換える
func (r *Repository) PutBatch(_ context.Context, bucket string, items map[string][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.bucketExists(bucket)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrCacheNotFound
	}

	type pending struct {
		tmp, final string
		size, prev int64
	}
	var files []pending
	cleanup := func() {
		for _, p := range files {
			os.Remove(p.tmp)
		}
	}

	var delta int64
	for key, data := range items {
		compressed, err := encodeFile(key, data)
		if err != nil {
			cleanup()
			return err
		}

		final := r.entryPath(bucket, key)
		var prev int64
		if info, err := os.Stat(final); err == nil {
			prev = info.Size()
		}

		tmp := final + ".tmp"
		if err := os.WriteFile(tmp, compressed, 0644); err != nil {
			cleanup()
			return err
		}
		files = append(files, pending{tmp: tmp, final: final, size: int64(len(compressed)), prev: prev})
		delta += int64(len(compressed)) - prev
	}

	// キャッシュサイズのチェック
	if r.maxSize > 0 && r.currSize+delta > r.maxSize {
		cleanup()
		return fmt.Errorf("%d bytes requested: %w", delta, domain.ErrQuotaExceeded)
	}

	for i, p := range files {
		if err := os.Rename(p.tmp, p.final); err != nil {
			for _, rest := range files[i:] {
				os.Remove(rest.tmp)
			}
			return err
		}
		r.currSize += p.size - p.prev
	}

	return nil
}

// Delete はキャッシュからエントリを削除
func (r *Repository) Delete(_ context.Context, bucket, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.entryPath(bucket, key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	r.currSize -= info.Size()
	return true, nil
}

func (r *Repository) Keys(_ context.Context, bucket string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files, err := os.ReadDir(r.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.bucketDir(bucket), f.Name()))
		if err != nil {
			return nil, err
		}
		key, _, err := decodeFile(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size は現在の使用量を返す
func (r *Repository) Size() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currSize
}

func (r *Repository) Close() error {
	return nil
}

func (r *Repository) bucketExists(bucket string) (bool, error) {
	info, err := os.Stat(r.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (r *Repository) bucketDir(bucket string) string {
	return filepath.Join(r.baseDir, hex.EncodeToString([]byte(bucket)))
}

func (r *Repository) entryPath(bucket, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(r.bucketDir(bucket), hex.EncodeToString(sum[:])+entrySuffix)
}

// readCreated はバケットの作成連番を読む. 記録がなければ最大値を返す
func readCreated(dir string) int64 {
	raw, err := os.ReadFile(filepath.Join(dir, createdFile))
	if err != nil {
		return math.MaxInt64
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return seq
}

// dirSize はディレクトリ内のエントリファイルの合計サイズを返す
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, entrySuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// encodeFile はキー行とデータをgzip圧縮する
func encodeFile(key string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(key)
	buf.WriteByte('\n')
	buf.Write(data)
	return compress(buf.Bytes())
}

// decodeFile は encodeFile の逆変換
func decodeFile(raw []byte) (string, []byte, error) {
	data, err := decompress(raw)
	if err != nil {
		return "", nil, err
	}
	br := bufio.NewReader(bytes.NewReader(data))
	key, err := br.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("corrupt cache file: %w", err)
	}
	return strings.TrimSuffix(key, "\n"), data[len(key):], nil
}

// compress はデータをgzip圧縮する
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress はgzip圧縮されたデータを展開する
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
