package config

import (
	"errors"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.DataDir == "" {
		return newFieldError("DataDir", "不能为空")
	}
	if c.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("RequestTimeout", "必须大于 0")
	}

	if err := validateBaseURL(c.MoetranAPIBase); err != nil {
		return newFieldError("MoetranAPIBase", err.Error())
	}
	if err := validateBaseURL(c.PoprakoAPIBase); err != nil {
		return newFieldError("PoprakoAPIBase", err.Error())
	}

	return nil
}

// validateBaseURL 要求 API 基地址为绝对 http(s) URL 并以 / 结尾，
// 否则相对路径解析会丢掉基地址的最后一段。
func validateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		return errors.New("路径必须以 / 结尾")
	}
	return nil
}
