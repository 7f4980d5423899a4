package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// PoprakoDefaultHeaders 返回 Poprako 协作服务的默认请求头。
func PoprakoDefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":     "application/json, text/plain, */*",
		"User-Agent": "moetran-companion/1.0",
	}
}

// Poprako 封装协作服务接口：登录、成员检索与更新检查。
type Poprako struct {
	client *Client
}

// NewPoprako 构造 Poprako 包装器。
func NewPoprako(client *Client) *Poprako {
	return &Poprako{client: client}
}

// Envelope 是 Poprako 的统一响应外壳，code != 200 视为业务错误。
type Envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// PoprakoLoginRequest 是登录请求体。
type PoprakoLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PoprakoLoginResponse 是登录成功后的响应。
type PoprakoLoginResponse struct {
	UserID uint64 `json:"user_id"`
	Token  string `json:"token"`
}

// MemberSearchRequest 与服务端的 PickMemberPayload 对应。
type MemberSearchRequest struct {
	TeamID    string  `json:"team_id"`
	Position  *string `json:"position,omitempty"`
	FuzzyName *string `json:"fuzzy_name,omitempty"`
	Page      *int    `json:"page,omitempty"`
	Limit     *int    `json:"limit,omitempty"`
}

// memberRaw 是服务端返回的成员行，last_active 为 RFC3339 时间。
type memberRaw struct {
	MemberID      string     `json:"member_id"`
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	IsAdmin       *bool      `json:"is_admin"`
	IsTranslator  *bool      `json:"is_translator"`
	IsProofreader *bool      `json:"is_proofreader"`
	IsTypesetter  *bool      `json:"is_typesetter"`
	IsRedrawer    *bool      `json:"is_redrawer"`
	IsPrincipal   *bool      `json:"is_principal"`
	LastActive    *time.Time `json:"last_active"`
}

// Member 是对外返回的成员行，last_active 转为 Unix 秒。
type Member struct {
	MemberID      string `json:"member_id"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	IsAdmin       *bool  `json:"is_admin"`
	IsTranslator  *bool  `json:"is_translator"`
	IsProofreader *bool  `json:"is_proofreader"`
	IsTypesetter  *bool  `json:"is_typesetter"`
	IsRedrawer    *bool  `json:"is_redrawer"`
	IsPrincipal   *bool  `json:"is_principal"`
	LastActive    *int64 `json:"last_active"`
}

// MemberInfo 是当前登录用户在指定汉化组中的成员信息，用于前端判断权限。
type MemberInfo struct {
	MemberID      string `json:"member_id"`
	IsAdmin       bool   `json:"is_admin"`
	IsTranslator  bool   `json:"is_translator"`
	IsProofreader bool   `json:"is_proofreader"`
	IsTypesetter  bool   `json:"is_typesetter"`
	IsPrincipal   bool   `json:"is_principal"`
}

// Login 执行 Poprako 登录。
func (p *Poprako) Login(ctx context.Context, payload PoprakoLoginRequest) (*PoprakoLoginResponse, error) {
	var resp PoprakoLoginResponse
	if err := p.client.PostJSON(ctx, "auth/login", payload, &resp); err != nil {
		return nil, fmt.Errorf("Poprako 登录请求失败: %w", err)
	}
	return &resp, nil
}

// SearchMembers 检索指定汉化组的成员列表。
func (p *Poprako) SearchMembers(ctx context.Context, payload MemberSearchRequest) ([]Member, error) {
	var envelope Envelope
	if err := p.client.PostJSON(ctx, "members/search", payload, &envelope); err != nil {
		return nil, fmt.Errorf("Failed to fetch members: %w", err)
	}

	return membersFromEnvelope(envelope)
}

// GetMemberInfo 查询当前登录用户在指定汉化组中的成员信息。
func (p *Poprako) GetMemberInfo(ctx context.Context, teamID string) (*MemberInfo, error) {
	query := url.Values{"team_id": []string{teamID}}

	var envelope Envelope
	if err := p.client.GetJSON(ctx, "members/info", query, &envelope); err != nil {
		return nil, fmt.Errorf("Failed to fetch member info: %w", err)
	}
	if err := envelopeError(envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, fmt.Errorf("member info response missing data")
	}

	var info MemberInfo
	if err := json.Unmarshal(envelope.Data, &info); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}
	return &info, nil
}

// GetActiveMembers 查询汉化组的活跃成员列表；page/limit 为 nil 时不传。
func (p *Poprako) GetActiveMembers(ctx context.Context, teamID string, page, limit *int) ([]Member, error) {
	query := url.Values{"team_id": []string{teamID}}
	if page != nil {
		query.Set("page", strconv.Itoa(*page))
	}
	if limit != nil {
		query.Set("limit", strconv.Itoa(*limit))
	}

	var envelope Envelope
	if err := p.client.GetJSON(ctx, "members/active", query, &envelope); err != nil {
		return nil, fmt.Errorf("Failed to fetch active members: %w", err)
	}
	return membersFromEnvelope(envelope)
}

// envelopeError 将 code != 200 的外壳转换为业务错误。
func envelopeError(envelope Envelope) error {
	if envelope.Code == 200 {
		return nil
	}
	message := envelope.Message
	if message == "" {
		message = "Unknown error"
	}
	return fmt.Errorf("%s", message)
}

// membersFromEnvelope 解出成员行并把 last_active 转为 Unix 秒。
func membersFromEnvelope(envelope Envelope) ([]Member, error) {
	if err := envelopeError(envelope); err != nil {
		return nil, err
	}

	var raws []memberRaw
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &raws); err != nil {
			return nil, fmt.Errorf("json parse error: %w", err)
		}
	}

	members := make([]Member, 0, len(raws))
	for _, raw := range raws {
		member := Member{
			MemberID:      raw.MemberID,
			UserID:        raw.UserID,
			Username:      raw.Username,
			IsAdmin:       raw.IsAdmin,
			IsTranslator:  raw.IsTranslator,
			IsProofreader: raw.IsProofreader,
			IsTypesetter:  raw.IsTypesetter,
			IsRedrawer:    raw.IsRedrawer,
			IsPrincipal:   raw.IsPrincipal,
		}
		if raw.LastActive != nil {
			unix := raw.LastActive.Unix()
			member.LastActive = &unix
		}
		members = append(members, member)
	}
	return members, nil
}

type updateResponse struct {
	Data struct {
		HasUpdate bool `json:"has_update"`
	} `json:"data"`
}

// CheckUpdate 查询是否有新版本；请求失败时降级为 false 并记录警告。
func (p *Poprako) CheckUpdate(ctx context.Context) bool {
	var resp updateResponse
	if err := p.client.GetJSON(ctx, "notify/update", nil, &resp); err != nil {
		p.client.logger.WithField("error", err.Error()).Warn("Failed to check for app update")
		return false
	}
	return resp.Data.HasUpdate
}
