package imagecache

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CachedFileData 是读取缓存文件的结果：base64 正文 + MIME 类型。
type CachedFileData struct {
	B64         string `json:"b64"`
	ContentType string `json:"content_type"`
}

// Reader 把 (project, index) 解析回缓存文件内容，读路径与下载路径彼此独立。
type Reader struct {
	resolver Resolver
}

// NewReader 构造 Reader。
func NewReader(resolver Resolver) Reader {
	return Reader{resolver: resolver}
}

// Load 扫描项目目录查找文件名主干等于索引十进制形式的条目，命中后读取
// 并 base64 编码。下载时的扩展名没有入库，只能在这里按目录内容现查。
func (r Reader) Load(projectID string, index int) (*CachedFileData, error) {
	cacheDir := r.resolver.Dir(projectID)

	if _, err := os.Stat(cacheDir); err != nil {
		return nil, fmt.Errorf("缓存目录不存在: %s", cacheDir)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("读取缓存目录失败: %w", err)
	}

	stem := strconv.Itoa(index)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		dot := strings.LastIndex(name, ".")
		if dot <= 0 || name[:dot] != stem {
			continue
		}

		data, err := os.ReadFile(filepath.Join(cacheDir, name))
		if err != nil {
			return nil, fmt.Errorf("读取缓存文件失败: %w", err)
		}

		return &CachedFileData{
			B64:         base64.StdEncoding.EncodeToString(data),
			ContentType: contentTypeFor(name[dot+1:]),
		}, nil
	}

	return nil, fmt.Errorf("缓存文件不存在: index %d", index)
}
