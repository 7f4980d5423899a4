// Package api implements the outbound HTTP clients for the two remote
// services. One shared Client handles URL joining, bearer auth, status
// checking and JSON decoding; the Moetran/Poprako wrappers stay thin.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client，用于所有出站请求。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// TokenProvider 返回当前可用的 bearer token；未登录时返回空串。
type TokenProvider func() string

// Client 组合基地址、默认头与 token 提供者，负责一个远端服务的全部请求。
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *logrus.Logger
	headers map[string]string
	token   TokenProvider
}

// NewClient 解析基地址并构造 Client。基地址必须以 / 结尾，否则相对路径
// 拼接会丢掉最后一段（config.Validate 已保证）。
func NewClient(baseURL string, httpClient *http.Client, logger *logrus.Logger, headers map[string]string, token TokenProvider) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("解析 API 基地址失败: %w", err)
	}

	return &Client{
		base:    base,
		http:    httpClient,
		logger:  logger,
		headers: headers,
		token:   token,
	}, nil
}

// GetJSON 执行带查询参数的 GET 并将响应解析为 out。
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}

	return c.do(req, out)
}

// PostJSON 执行 POST 并将响应解析为 out；body 为 nil 时发送空请求体，
// 保证 Content-Length: 0。
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}

	var reader io.Reader = strings.NewReader("")
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// FetchBytes 对绝对 URL 执行认证 GET 并返回完整响应体，
// 供图片缓存下载器使用。
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request send error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http error: status %d body: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("response body read error: %w", err)
	}
	return data, nil
}

// resolve 校验相对路径并与基地址拼接。
func (c *Client) resolve(path string) (*url.URL, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid api path: %q", path)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("解析请求路径失败: %w", err)
	}
	return c.base.ResolveReference(ref), nil
}

// do 附加默认头与认证头后发送请求，统一做状态检查与 JSON 解析。
// 空响应体按 JSON null 处理，兼容 204 No Content 接口。
func (c *Client) do(req *http.Request, out any) error {
	c.applyHeaders(req)

	c.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	}).Debug("api.request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request send error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("response body read error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http error: status %d body: %s", resp.StatusCode, string(body))
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json parse error: %w", err)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for key, value := range c.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	if c.token == nil {
		return
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		c.logger.WithField("url", req.URL.String()).Debug("api.request.no_token")
	}
}
