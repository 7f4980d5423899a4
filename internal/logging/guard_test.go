package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestOpGuardWarnsWhenInterrupted(t *testing.T) {
	logger, buf := newBufferedLogger()

	guard := NewOpGuard(logger, "cache.download")
	guard.Done()

	if !strings.Contains(buf.String(), "cache.download.interrupted") {
		t.Fatalf("未标记成功时应输出中断警告: %s", buf.String())
	}
}

func TestOpGuardSilentAfterSuccess(t *testing.T) {
	logger, buf := newBufferedLogger()

	guard := NewOpGuard(logger, "cache.download")
	guard.Success()
	guard.Done()

	if buf.Len() != 0 {
		t.Fatalf("标记成功后不应输出日志: %s", buf.String())
	}
}

// newBufferedLogger 返回写入内存 buffer 的 logger，便于断言输出内容。
func newBufferedLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, buf
}
