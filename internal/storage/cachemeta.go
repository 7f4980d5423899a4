package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// 缓存结果状态，持久化为小写字符串。
const (
	CacheStatusCompleted = "completed"
	CacheStatusFailed    = "failed"
)

// ProjectCacheRecord 描述一个项目最近一次整体下载的结果，一行对应一个项目。
// file_count 与 total_size_bytes 反映写入时磁盘目录的真实内容。
type ProjectCacheRecord struct {
	ProjectID      string `json:"project_id"`
	ProjectName    string `json:"project_name"`
	Status         string `json:"status"`
	FileCount      int64  `json:"file_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	CachedAt       int64  `json:"cached_at"`
}

// UpsertProject 以 project_id 为主键插入或整行覆盖缓存元数据。
func (s *Store) UpsertProject(ctx context.Context, record *ProjectCacheRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_projects (project_id, project_name, status, file_count, total_size_bytes, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			project_name = excluded.project_name,
			status = excluded.status,
			file_count = excluded.file_count,
			total_size_bytes = excluded.total_size_bytes,
			cached_at = excluded.cached_at
	`, record.ProjectID, record.ProjectName, record.Status,
		record.FileCount, record.TotalSizeBytes, record.CachedAt)
	if err != nil {
		return fmt.Errorf("写入缓存元数据失败: %w", err)
	}
	return nil
}

// GetProject 返回单个项目的缓存元数据；不存在时返回 (nil, nil)。
func (s *Store) GetProject(ctx context.Context, projectID string) (*ProjectCacheRecord, error) {
	var record ProjectCacheRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, project_name, status, file_count, total_size_bytes, cached_at
		FROM cached_projects
		WHERE project_id = ?
	`, projectID).Scan(
		&record.ProjectID, &record.ProjectName, &record.Status,
		&record.FileCount, &record.TotalSizeBytes, &record.CachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取缓存元数据失败: %w", err)
	}
	return &record, nil
}

// ListProjects 返回全部缓存项目，按 cached_at 倒序。
func (s *Store) ListProjects(ctx context.Context) ([]ProjectCacheRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, project_name, status, file_count, total_size_bytes, cached_at
		FROM cached_projects
		ORDER BY cached_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("读取缓存项目列表失败: %w", err)
	}
	defer rows.Close()

	records := make([]ProjectCacheRecord, 0)
	for rows.Next() {
		var record ProjectCacheRecord
		if err := rows.Scan(
			&record.ProjectID, &record.ProjectName, &record.Status,
			&record.FileCount, &record.TotalSizeBytes, &record.CachedAt,
		); err != nil {
			return nil, fmt.Errorf("解析缓存项目行失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历缓存项目列表失败: %w", err)
	}
	return records, nil
}

// DeleteProject 删除项目的缓存元数据，不存在时视为成功。
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_projects WHERE project_id = ?`, projectID,
	); err != nil {
		return fmt.Errorf("删除缓存元数据失败: %w", err)
	}
	return nil
}
