package imagecache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver 将项目 ID 映射为缓存目录，纯计算不做 I/O。
type Resolver struct {
	root string
}

// NewResolver 以 root 为图片缓存根目录（通常为 <DataDir>/images）。
func NewResolver(root string) Resolver {
	return Resolver{root: root}
}

// Dir 返回项目的缓存目录路径。
func (r Resolver) Dir(projectID string) string {
	return filepath.Join(r.root, projectID)
}

// ValidateProjectID 拒绝可能逃出缓存根目录的标识符。
// 项目 ID 来自远端服务，但作为路径段使用前仍需检查。
func ValidateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("项目 ID 不能为空")
	}
	if projectID == "." || projectID == ".." {
		return fmt.Errorf("非法项目 ID: %s", projectID)
	}
	if strings.ContainsAny(projectID, `/\`) {
		return fmt.Errorf("项目 ID 不能包含路径分隔符: %s", projectID)
	}
	return nil
}
