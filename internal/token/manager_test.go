package token

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/moetran/companion/internal/storage"
)

func TestGetFallsBackToDatabase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveToken(ctx, NameMoetran, "db-token"); err != nil {
		t.Fatalf("预置 token 失败: %v", err)
	}

	// 新 Manager 内存为空，应回落数据库并回填缓存。
	manager := NewManager(store)
	got, err := manager.Get(ctx, NameMoetran)
	if err != nil {
		t.Fatalf("Get 返回错误: %v", err)
	}
	if got != "db-token" {
		t.Fatalf("token 不符: %s", got)
	}
	if manager.Cached(NameMoetran) != "db-token" {
		t.Fatalf("回填后 Cached 应命中")
	}
}

func TestGetMissingReturnsEmpty(t *testing.T) {
	manager := NewManager(newTestStore(t))

	got, err := manager.Get(context.Background(), NamePoprako)
	if err != nil {
		t.Fatalf("缺失 token 不应报错: %v", err)
	}
	if got != "" {
		t.Fatalf("缺失 token 应返回空串: %s", got)
	}
}

func TestSaveWritesThrough(t *testing.T) {
	store := newTestStore(t)
	manager := NewManager(store)
	ctx := context.Background()

	if err := manager.Save(ctx, NamePoprako, "fresh"); err != nil {
		t.Fatalf("Save 返回错误: %v", err)
	}
	if manager.Cached(NamePoprako) != "fresh" {
		t.Fatalf("Save 后内存缓存应更新")
	}

	persisted, err := store.GetToken(ctx, NamePoprako)
	if err != nil || persisted != "fresh" {
		t.Fatalf("Save 后数据库应有记录: %s, %v", persisted, err)
	}
}

func TestRemoveClearsBothCopies(t *testing.T) {
	store := newTestStore(t)
	manager := NewManager(store)
	ctx := context.Background()

	if err := manager.Save(ctx, NameMoetran, "tok"); err != nil {
		t.Fatalf("Save 返回错误: %v", err)
	}
	if err := manager.Remove(ctx, NameMoetran); err != nil {
		t.Fatalf("Remove 返回错误: %v", err)
	}
	if manager.Cached(NameMoetran) != "" {
		t.Fatalf("Remove 后内存缓存应清空")
	}
	got, err := manager.Get(ctx, NameMoetran)
	if err != nil || got != "" {
		t.Fatalf("Remove 后 Get 应返回空串: %s, %v", got, err)
	}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "companion.db"))
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
