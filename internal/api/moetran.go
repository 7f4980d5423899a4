package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Moetran 官方站点会校验 Origin/Referer 等头，这里模拟浏览器请求。
func MoetranDefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
		"Accept-Language": "zh-CN",
		"Origin":          "https://moetran.com",
		"Referer":         "https://moetran.com/",
	}
}

// Moetran 封装 Moetran 平台的接口：验证码、登录、用户、汉化组与项目列表。
type Moetran struct {
	client *Client
}

// NewMoetran 构造 Moetran 包装器。
func NewMoetran(client *Client) *Moetran {
	return &Moetran{client: client}
}

// RawClient 暴露底层 Client，图片缓存下载走 FetchBytes。
func (m *Moetran) RawClient() *Client {
	return m.client
}

// CaptchaResponse 是验证码接口的响应。
type CaptchaResponse struct {
	Image string `json:"image"`
	Info  string `json:"info"`
}

// LoginRequest 是 Moetran 登录请求体。
type LoginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Captcha     string `json:"captcha"`
	CaptchaInfo string `json:"captcha_info"`
}

// LoginResponse 是 Moetran 登录成功后的响应。
type LoginResponse struct {
	Token string `json:"token"`
}

// User 是当前用户信息 DTO。
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HasAvatar bool   `json:"has_avatar"`
	Avatar    string `json:"avatar"`
}

// Team 是汉化组 DTO。
type Team struct {
	ID        string `json:"id"`
	Avatar    string `json:"avatar"`
	HasAvatar bool   `json:"has_avatar"`
	Name      string `json:"name"`
}

// ProjectSet 是项目集 DTO。
type ProjectSet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project 是项目 DTO。
type Project struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	SourceCount           uint64     `json:"source_count"`
	TranslatedSourceCount uint64     `json:"translated_source_count"`
	CheckedSourceCount    uint64     `json:"checked_source_count"`
	Team                  Team       `json:"team"`
	ProjectSet            ProjectSet `json:"project_set"`
}

// GetCaptcha 获取验证码。后端代为请求以规避 CORS。
func (m *Moetran) GetCaptcha(ctx context.Context) (*CaptchaResponse, error) {
	var resp CaptchaResponse
	if err := m.client.PostJSON(ctx, "captchas", nil, &resp); err != nil {
		return nil, fmt.Errorf("获取验证码失败: %w", err)
	}
	return &resp, nil
}

// RequestToken 使用邮箱 + 密码 + 验证码换取 token。
func (m *Moetran) RequestToken(ctx context.Context, payload LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := m.client.PostJSON(ctx, "user/token", payload, &resp); err != nil {
		return nil, fmt.Errorf("登录请求失败: %w", err)
	}
	return &resp, nil
}

// GetUserInfo 获取当前用户信息。
func (m *Moetran) GetUserInfo(ctx context.Context) (*User, error) {
	var user User
	if err := m.client.GetJSON(ctx, "user/info", nil, &user); err != nil {
		return nil, fmt.Errorf("获取用户信息失败: %w", err)
	}
	return &user, nil
}

// GetUserTeams 获取当前用户的汉化组列表。
func (m *Moetran) GetUserTeams(ctx context.Context, page, limit int) ([]Team, error) {
	var teams []Team
	if err := m.client.GetJSON(ctx, "user/teams", pageQuery(page, limit), &teams); err != nil {
		return nil, fmt.Errorf("获取用户汉化组失败: %w", err)
	}
	return teams, nil
}

// GetUserProjects 获取当前用户的项目列表。
func (m *Moetran) GetUserProjects(ctx context.Context, page, limit int) ([]Project, error) {
	var projects []Project
	if err := m.client.GetJSON(ctx, "user/projects", pageQuery(page, limit), &projects); err != nil {
		return nil, fmt.Errorf("获取用户项目列表失败: %w", err)
	}
	return projects, nil
}

// GetTeamProjectSets 获取指定汉化组的项目集列表。
func (m *Moetran) GetTeamProjectSets(ctx context.Context, teamID string, page, limit int) ([]ProjectSet, error) {
	path := fmt.Sprintf("teams/%s/project-sets", url.PathEscape(teamID))
	var sets []ProjectSet
	if err := m.client.GetJSON(ctx, path, pageQuery(page, limit), &sets); err != nil {
		return nil, fmt.Errorf("获取项目集列表失败: %w", err)
	}
	return sets, nil
}

// GetTeamProjects 获取指定汉化组下某项目集的项目列表。
func (m *Moetran) GetTeamProjects(ctx context.Context, teamID, projectSet string, page, limit int) ([]Project, error) {
	path := fmt.Sprintf("teams/%s/projects", url.PathEscape(teamID))
	query := pageQuery(page, limit)
	query.Set("project_set", projectSet)

	var projects []Project
	if err := m.client.GetJSON(ctx, path, query, &projects); err != nil {
		return nil, fmt.Errorf("获取项目列表失败: %w", err)
	}
	return projects, nil
}

func pageQuery(page, limit int) url.Values {
	return url.Values{
		"page":  []string{strconv.Itoa(page)},
		"limit": []string{strconv.Itoa(limit)},
	}
}
