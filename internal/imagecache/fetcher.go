package imagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// maxRetries 是首次尝试之后的重试次数，总计 3 次尝试。
	maxRetries = 2
	// retryDelay 是两次尝试之间的固定等待。
	retryDelay = 500 * time.Millisecond
)

// FetchFunc 是下载器消费的取数能力：认证 GET 并返回完整响应体。
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Fetcher 负责把一个远端资源落到一个本地文件，失败时按固定间隔重试。
type Fetcher struct {
	fetch  FetchFunc
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher 构造 Fetcher，默认使用可被 context 打断的真实睡眠。
func NewFetcher(fetch FetchFunc, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		fetch:  fetch,
		logger: logger,
		sleep:  sleepContext,
	}
}

// FetchOne 下载 url 到 destPath。响应体整体读入内存后经临时文件 + rename
// 一次性落盘，中途崩溃不会留下截断文件。重试耗尽后返回带索引与 URL 的错误。
func (f *Fetcher) FetchOne(ctx context.Context, url, destPath string, index int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		data, err := f.fetch(ctx, url)
		if err == nil {
			if writeErr := writeFileAtomic(destPath, data); writeErr != nil {
				return fmt.Errorf("写入缓存文件失败: %w", writeErr)
			}
			f.logger.WithFields(logrus.Fields{
				"index": index,
				"bytes": len(data),
			}).Debug("file downloaded successfully")
			return nil
		}

		lastErr = err
		if attempt < maxRetries {
			f.logger.WithFields(logrus.Fields{
				"index":   index,
				"attempt": attempt + 1,
				"error":   err.Error(),
			}).Warn("download failed, retrying")
			if sleepErr := f.sleep(ctx, retryDelay); sleepErr != nil {
				return fmt.Errorf("下载文件 %s 失败（索引 %d）: %w", url, index, sleepErr)
			}
		}
	}

	f.logger.WithFields(logrus.Fields{
		"index": index,
		"error": lastErr.Error(),
	}).Error("download failed after all retries")
	return fmt.Errorf("下载文件 %s 失败（索引 %d）: %w", url, index, lastErr)
}

// writeFileAtomic 先写临时文件再 rename，保证目标路径要么完整要么不存在。
func writeFileAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, destPath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// sleepContext 等待 d，context 取消时提前返回其错误。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
