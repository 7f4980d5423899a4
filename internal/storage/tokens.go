package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoToken 表示数据库中不存在请求的 token。
var ErrNoToken = errors.New("token not found")

// SaveToken 插入或覆盖指定名称的 token，并刷新 updated_at。
func (s *Store) SaveToken(ctx context.Context, name, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (name, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at
	`, name, token, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("保存 token 失败: %w", err)
	}
	return nil
}

// GetToken 返回指定名称的 token；不存在时返回 ErrNoToken。
func (s *Store) GetToken(ctx context.Context, name string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM tokens WHERE name = ?`, name,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("读取 token 失败: %w", err)
	}
	return token, nil
}

// DeleteToken 删除指定名称的 token，不存在时视为成功。
func (s *Store) DeleteToken(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE name = ?`, name,
	); err != nil {
		return fmt.Errorf("删除 token 失败: %w", err)
	}
	return nil
}
