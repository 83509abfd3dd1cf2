package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"swproxy/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_buckets (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	bucket TEXT NOT NULL REFERENCES cache_buckets(name) ON DELETE CASCADE,
	cache_key TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (bucket, cache_key)
);`

// SQLite はSQLiteテーブルにエントリを保存するバックエンド
type SQLite struct {
	sqlDB *sql.DB
}

var _ domain.CacheBackend = (*SQLite)(nil)

// OpenSQLite はSQLiteストアを開きスキーマを作成する
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 書き込みは単一コネクションで直列化
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{sqlDB: sqlDB}, nil
}

func (s *SQLite) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		bucket, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

func (s *SQLite) HasBucket(ctx context.Context, bucket string) (bool, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM cache_buckets WHERE name = ?`, bucket).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has bucket %q: %w", bucket, err)
	}
	return n > 0, nil
}

func (s *SQLite) Buckets(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_buckets ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_buckets WHERE name = ?`, bucket)
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Get(ctx context.Context, bucket, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload FROM cache_entries WHERE bucket = ? AND cache_key = ?`,
		bucket, key,
	).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return payload, true, nil
}

func (s *SQLite) PutBatch(ctx context.Context, bucket string, items map[string][]byte) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM cache_buckets WHERE name = ?`, bucket).Scan(&n); err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if n == 0 {
		return domain.ErrCacheNotFound
	}

	now := time.Now().UnixMilli()
	for key, payload := range items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cache_entries (bucket, cache_key, payload, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(bucket, cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			bucket, key, payload, now,
		)
		if err != nil {
			return fmt.Errorf("put cache entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, bucket, key string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE bucket = ? AND cache_key = ?`, bucket, key)
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Keys(ctx context.Context, bucket string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM cache_entries WHERE bucket = ? ORDER BY cache_key`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close はSQLiteの接続を閉じる
func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
