package imagecache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moetran/companion/internal/logging"
	"github.com/moetran/companion/internal/storage"
)

// MetadataStore 是缓存元数据的持久化契约，由 storage.Store 实现。
// Manager 在构造时拿到显式句柄，生命周期归启动流程管理。
type MetadataStore interface {
	UpsertProject(ctx context.Context, record *storage.ProjectCacheRecord) error
	GetProject(ctx context.Context, projectID string) (*storage.ProjectCacheRecord, error)
	ListProjects(ctx context.Context) ([]storage.ProjectCacheRecord, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// Manager 组合目录解析、下载调度、元数据与读取，对外提供缓存命令的全部操作。
type Manager struct {
	resolver  Resolver
	scheduler *Scheduler
	reader    Reader
	meta      MetadataStore
	logger    *logrus.Logger
	now       func() time.Time
}

// NewManager 构造 Manager。root 为图片缓存根目录，fetch 为认证取数能力。
func NewManager(root string, fetch FetchFunc, meta MetadataStore, logger *logrus.Logger) *Manager {
	resolver := NewResolver(root)
	return &Manager{
		resolver:  resolver,
		scheduler: NewScheduler(NewFetcher(fetch, logger), logger),
		reader:    NewReader(resolver),
		meta:      meta,
		logger:    logger,
		now:       time.Now,
	}
}

// CheckFileCache 报告项目的缓存目录是否存在。只看目录，不校验内容。
func (m *Manager) CheckFileCache(projectID string) bool {
	if err := ValidateProjectID(projectID); err != nil {
		return false
	}
	info, err := os.Stat(m.resolver.Dir(projectID))
	return err == nil && info.IsDir()
}

// DownloadProjectFiles 把项目的全部图片镜像到本地缓存。已存在的索引被跳过，
// 其余文件并发下载；随后按磁盘真实内容盘点并写入元数据。任何文件失败都会
// 让整体返回错误，但已成功的文件保留在磁盘上，重试时不会重复下载。
func (m *Manager) DownloadProjectFiles(ctx context.Context, projectID, projectName string, files []FileDownloadInfo) error {
	if err := ValidateProjectID(projectID); err != nil {
		return err
	}

	fields := logging.ProjectFields("image_cache.download", projectID)
	fields["file_count"] = len(files)
	m.logger.WithFields(fields).Info("image_cache.download.start")

	guard := logging.NewOpGuard(m.logger, "image_cache.download")
	defer guard.Done()

	cacheDir := m.resolver.Dir(projectID)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}

	result := m.scheduler.Run(ctx, cacheDir, files)

	// 以磁盘为准盘点实际文件数与总大小，而不是信任请求列表长度。
	var (
		fileCount      int64
		totalSizeBytes int64
	)
	for index, file := range files {
		path, ok := findExisting(cacheDir, index, file.URL)
		if !ok {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			fileCount++
			totalSizeBytes += info.Size()
		}
	}

	status := storage.CacheStatusCompleted
	if result.AnyFailed() {
		status = storage.CacheStatusFailed
	}

	record := &storage.ProjectCacheRecord{
		ProjectID:      projectID,
		ProjectName:    projectName,
		Status:         status,
		FileCount:      fileCount,
		TotalSizeBytes: totalSizeBytes,
		CachedAt:       m.now().Unix(),
	}

	// 元数据只是“尽力而为”：存储不可用不应让已经完成的下载报错。
	if m.meta == nil {
		m.logger.Warn("metadata store not available, skip metadata save")
	} else if err := m.meta.UpsertProject(ctx, record); err != nil {
		m.logger.WithField("error", err.Error()).Warn("metadata save failed, keeping downloaded files")
	}

	m.logger.WithFields(logrus.Fields{
		"project_id":       projectID,
		"status":           status,
		"file_count":       fileCount,
		"total_size_bytes": totalSizeBytes,
	}).Info("image_cache.download.ok")

	// 走到这里说明流程完整收尾；部分失败属于正常结果，不算中断。
	guard.Success()

	if result.AnyFailed() {
		return fmt.Errorf("部分文件下载失败")
	}
	return nil
}

// DeleteFileCache 递归删除缓存目录后删除元数据记录；目录不存在时不报错。
// 两步不具备事务性，中途崩溃可能留下孤儿记录。
func (m *Manager) DeleteFileCache(ctx context.Context, projectID string) error {
	if err := ValidateProjectID(projectID); err != nil {
		return err
	}

	m.logger.WithFields(logging.ProjectFields("image_cache.delete", projectID)).Info("image_cache.delete.start")

	cacheDir := m.resolver.Dir(projectID)
	if _, err := os.Stat(cacheDir); err == nil {
		if err := os.RemoveAll(cacheDir); err != nil {
			return fmt.Errorf("删除缓存目录失败: %w", err)
		}
	}

	if m.meta == nil {
		m.logger.Warn("metadata store not available, skip metadata delete")
		return nil
	}
	if err := m.meta.DeleteProject(ctx, projectID); err != nil {
		return err
	}

	m.logger.WithFields(logging.ProjectFields("image_cache.delete", projectID)).Info("image_cache.delete.ok")
	return nil
}

// ListCachedProjects 返回全部缓存项目元数据，按 cached_at 倒序。
func (m *Manager) ListCachedProjects(ctx context.Context) ([]storage.ProjectCacheRecord, error) {
	if m.meta == nil {
		return nil, fmt.Errorf("本地存储不可用")
	}
	return m.meta.ListProjects(ctx)
}

// GetCachedProjectInfo 返回单个项目的缓存元数据；没有记录时返回 (nil, nil)。
func (m *Manager) GetCachedProjectInfo(ctx context.Context, projectID string) (*storage.ProjectCacheRecord, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if m.meta == nil {
		return nil, fmt.Errorf("本地存储不可用")
	}
	return m.meta.GetProject(ctx, projectID)
}

// LoadCachedFile 从本地缓存读取指定索引的图片。
func (m *Manager) LoadCachedFile(projectID string, index int) (*CachedFileData, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	return m.reader.Load(projectID, index)
}
