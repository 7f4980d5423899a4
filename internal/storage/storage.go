// Package storage owns the local SQLite database: the tokens table used by
// the API clients and the cached_projects table that records image cache
// outcomes. The store is opened once during startup and handed to consumers
// explicitly; there is no package-level singleton.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store 封装本地 SQLite 连接池，供 token 与缓存元数据仓储复用。
type Store struct {
	db *sql.DB
}

// Open 确保数据库目录存在后打开连接池并执行建表迁移。
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("数据库路径不能为空")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 单文件库，限制连接数避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close 释放底层连接池。
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			name TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cached_projects (
			project_id TEXT PRIMARY KEY,
			project_name TEXT NOT NULL,
			status TEXT NOT NULL,
			file_count INTEGER NOT NULL DEFAULT 0,
			total_size_bytes INTEGER NOT NULL DEFAULT 0,
			cached_at INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化数据库表失败: %w", err)
		}
	}
	return nil
}
