// Package token keeps the Moetran/Poprako bearer tokens available without a
// database round trip per request: memory first, SQLite as the durable copy.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moetran/companion/internal/storage"
)

// 数据库中 tokens 表的行名。
const (
	NameMoetran = "moetran_token"
	NamePoprako = "poprako_token"
)

// Manager 维护两个服务的 token：读优先走内存缓存，写同时落库。
type Manager struct {
	store *storage.Store

	mu     sync.RWMutex
	tokens map[string]string
}

// NewManager 构造注入了存储句柄的 Manager。
func NewManager(store *storage.Store) *Manager {
	return &Manager{
		store:  store,
		tokens: make(map[string]string),
	}
}

// Get 返回指定名称的 token；内存没有时回落到数据库并回填缓存。
// 数据库中也不存在时返回 ("", nil)，与“尚未登录”语义对应。
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	cached, ok := m.tokens[name]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	token, err := m.store.GetToken(ctx, name)
	if errors.Is(err, storage.ErrNoToken) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("加载 token 失败: %w", err)
	}

	m.mu.Lock()
	m.tokens[name] = token
	m.mu.Unlock()

	return token, nil
}

// Save 将 token 写入数据库后更新内存缓存。
func (m *Manager) Save(ctx context.Context, name, token string) error {
	if err := m.store.SaveToken(ctx, name, token); err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens[name] = token
	m.mu.Unlock()

	return nil
}

// Remove 从数据库删除 token 并清空内存缓存。
func (m *Manager) Remove(ctx context.Context, name string) error {
	if err := m.store.DeleteToken(ctx, name); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tokens, name)
	m.mu.Unlock()

	return nil
}

// Cached 返回内存中的 token，不触发数据库读取。
// API 客户端在附加 Authorization 头时使用，未登录时返回空串。
func (m *Manager) Cached(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[name]
}
