package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"swproxy/internal/domain"
)

// orderBucket はキャッシュ名ごとの作成連番を保持する予約バケット
var orderBucket = []byte("\x00cache-order")

// Bolt はBoltDBのバケットをキャッシュ名に対応させるバックエンド
type Bolt struct {
	db *bbolt.DB
}

var _ domain.CacheBackend = (*Bolt)(nil)

// OpenBolt は指定パスのBoltDBを開く
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) CreateBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucket)) != nil {
			return nil
		}
		if _, err := tx.CreateBucket([]byte(bucket)); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		order, err := tx.CreateBucketIfNotExists(orderBucket)
		if err != nil {
			return err
		}
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		return order.Put([]byte(bucket), itob(seq))
	})
}

func (b *Bolt) HasBucket(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket([]byte(bucket)) != nil
		return nil
	})
	return ok, err
}

func (b *Bolt) Buckets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type created struct {
		name string
		seq  uint64
	}
	var list []created
	err := b.db.View(func(tx *bbolt.Tx) error {
		order := tx.Bucket(orderBucket)
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if bytes.Equal(name, orderBucket) {
				return nil
			}
			// 連番のないバケットは末尾に回す
			seq := uint64(math.MaxUint64)
			if order != nil {
				if v := order.Get(name); len(v) == 8 {
					seq = binary.BigEndian.Uint64(v)
				}
			}
			list = append(list, created{name: string(name), seq: seq})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].seq < list[j].seq
	})
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.name)
	}
	return names, nil
}

func (b *Bolt) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted := true
	err := b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(bucket))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			deleted = false
			return nil
		}
		if err != nil {
			return err
		}
		if order := tx.Bucket(orderBucket); order != nil {
			return order.Delete([]byte(bucket))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (b *Bolt) Get(ctx context.Context, bucket, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		if v := bk.Get([]byte(key)); v != nil {
			// トランザクション外でも使えるようにコピー
			data = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

func (b *Bolt) PutBatch(ctx context.Context, bucket string, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return domain.ErrCacheNotFound
		}
		for k, v := range items {
			if err := bk.Put([]byte(k), v); err != nil {
				return fmt.Errorf("put %q: %w", k, err)
			}
		}
		return nil
	})
}

func (b *Bolt) Delete(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var deleted bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil || bk.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		return bk.Delete([]byte(key))
	})
	return deleted, err
}

func (b *Bolt) Keys(ctx context.Context, bucket string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func itob(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Close はBoltDBを閉じる
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
