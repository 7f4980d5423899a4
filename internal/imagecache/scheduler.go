package imagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// concurrentDownloads 是同一次下载调用内的并发上限。
const concurrentDownloads = 5

// FileDownloadInfo 描述一个待下载文件；它在列表中的位置就是索引。
type FileDownloadInfo struct {
	URL string `json:"url"`
}

// RunResult 汇总一次调度的各文件结局。
type RunResult struct {
	Requested int
	Skipped   int
	Failed    int
}

// AnyFailed 报告是否有任何下载单元失败。
func (r RunResult) AnyFailed() bool {
	return r.Failed > 0
}

// Scheduler 把文件列表展开为受计数信号量约束的并发下载任务。
type Scheduler struct {
	fetcher *Fetcher
	logger  *logrus.Logger
}

// NewScheduler 构造 Scheduler。
func NewScheduler(fetcher *Fetcher, logger *logrus.Logger) *Scheduler {
	return &Scheduler{fetcher: fetcher, logger: logger}
}

// Run 下载 cacheDir 中尚不存在的文件。每个待下载条目占用一个信号量槽位，
// 失败不打断兄弟任务，所有任务跑完后统一汇总；完成顺序不做任何保证。
func (s *Scheduler) Run(ctx context.Context, cacheDir string, files []FileDownloadInfo) RunResult {
	result := RunResult{Requested: len(files)}

	type downloadUnit struct {
		index int
		url   string
	}
	var toDownload []downloadUnit
	for index, file := range files {
		if _, ok := findExisting(cacheDir, index, file.URL); ok {
			s.logger.WithField("index", index).Debug("file already cached, skip")
			result.Skipped++
			continue
		}
		toDownload = append(toDownload, downloadUnit{index: index, url: file.URL})
	}

	s.logger.WithFields(logrus.Fields{
		"total":       len(files),
		"to_download": len(toDownload),
	}).Info("image_cache.download.files_checked")

	if len(toDownload) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(concurrentDownloads)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	recordFailure := func() {
		mu.Lock()
		failed++
		mu.Unlock()
	}

	for _, unit := range toDownload {
		wg.Add(1)
		go func(unit downloadUnit) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				s.logger.WithFields(logrus.Fields{
					"index": unit.index,
					"error": err.Error(),
				}).Error("download task aborted")
				recordFailure()
				return
			}
			defer sem.Release(1)

			destPath := filepath.Join(cacheDir, fmt.Sprintf("%d.%s", unit.index, inferExtension(unit.url)))
			if err := s.fetcher.FetchOne(ctx, unit.url, destPath, unit.index); err != nil {
				s.logger.WithField("error", err.Error()).Error("download task failed")
				recordFailure()
			}
		}(unit)
	}

	wg.Wait()

	result.Failed = failed
	return result
}

// findExisting 返回索引对应的已有缓存文件。优先探测 URL 启发式给出的
// 扩展名，再探测其余已知扩展名，保证跳过判断与磁盘盘点口径一致。
func findExisting(cacheDir string, index int, url string) (string, bool) {
	stem := strconv.Itoa(index)

	probe := func(ext string) (string, bool) {
		path := filepath.Join(cacheDir, stem+"."+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
		return "", false
	}

	preferred := inferExtension(url)
	if path, ok := probe(preferred); ok {
		return path, true
	}
	for _, ext := range knownExtensions {
		if ext == preferred {
			continue
		}
		if path, ok := probe(ext); ok {
			return path, true
		}
	}
	return "", false
}
