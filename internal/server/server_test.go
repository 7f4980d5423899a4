package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/moetran/companion/internal/api"
	"github.com/moetran/companion/internal/imagecache"
	"github.com/moetran/companion/internal/storage"
	"github.com/moetran/companion/internal/token"
)

func TestHealthzReportsVersion(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.request(t, "GET", "/healthz", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz 应返回 200，得到 %d", resp.StatusCode)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("响应应带 X-Request-ID 头")
	}

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" || body.Version == "" {
		t.Fatalf("healthz 响应不符: %+v", body)
	}
}

func TestTokenLifecycle(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.request(t, "POST", "/api/commands/tokens/moetran/save", map[string]string{"token": "abc123"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("保存 token 应成功，得到 %d", resp.StatusCode)
	}

	var got struct {
		Token *string `json:"token"`
	}
	resp = env.request(t, "POST", "/api/commands/tokens/moetran/get", nil)
	decodeBody(t, resp, &got)
	if got.Token == nil || *got.Token != "abc123" {
		t.Fatalf("读取 token 不符: %+v", got.Token)
	}

	resp = env.request(t, "POST", "/api/commands/tokens/moetran/remove", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("删除 token 应成功，得到 %d", resp.StatusCode)
	}

	got.Token = nil
	resp = env.request(t, "POST", "/api/commands/tokens/moetran/get", nil)
	decodeBody(t, resp, &got)
	if got.Token != nil {
		t.Fatalf("删除后 token 应为 null: %v", *got.Token)
	}
}

func TestTokenUnknownService(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.request(t, "POST", "/api/commands/tokens/github/get", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("未知服务应返回 404，得到 %d", resp.StatusCode)
	}
	if !strings.Contains(readBody(t, resp), "unknown token service") {
		t.Fatalf("错误外壳应说明服务未知")
	}
}

func TestProxyForwardsBearerToken(t *testing.T) {
	var gotAuth string
	moetran := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"u1","name":"tester"}`)
	})
	env := newTestServer(t, moetran, nil)

	env.request(t, "POST", "/api/commands/tokens/moetran/save", map[string]string{"token": "secret"})

	resp := env.request(t, "POST", "/api/commands/user/info", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("代理请求应成功，得到 %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("上游应收到 Bearer 头，得到 %q", gotAuth)
	}

	var user api.User
	decodeBody(t, resp, &user)
	if user.ID != "u1" || user.Name != "tester" {
		t.Fatalf("用户信息透传不符: %+v", user)
	}
}

func TestProxyUpstreamFailureEnvelope(t *testing.T) {
	moetran := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	env := newTestServer(t, moetran, nil)

	resp := env.request(t, "POST", "/api/commands/user/info", nil)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("上游失败应映射为 502，得到 %d", resp.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if !strings.Contains(body.Error, "status 500") {
		t.Fatalf("错误外壳应包含上游状态: %s", body.Error)
	}
}

func TestMembersSearchBusinessError(t *testing.T) {
	poprako := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":403,"message":"权限不足"}`)
	})
	env := newTestServer(t, nil, poprako)

	resp := env.request(t, "POST", "/api/commands/members/search", map[string]string{"team_id": "t1"})
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("业务错误应映射为 502，得到 %d", resp.StatusCode)
	}
	if !strings.Contains(readBody(t, resp), "权限不足") {
		t.Fatalf("错误外壳应透传业务 message")
	}
}

func TestMemberInfoCommand(t *testing.T) {
	poprako := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/members/info" || r.URL.Query().Get("team_id") != "t1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"code":200,"data":{"member_id":"m1","is_admin":true,"is_translator":true,"is_proofreader":false,"is_typesetter":false,"is_principal":false}}`)
	})
	env := newTestServer(t, nil, poprako)

	resp := env.request(t, "POST", "/api/commands/members/info", map[string]string{"team_id": "t1"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("成员信息命令应成功，得到 %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var info api.MemberInfo
	decodeBody(t, resp, &info)
	if info.MemberID != "m1" || !info.IsAdmin || !info.IsTranslator {
		t.Fatalf("成员信息不符: %+v", info)
	}
}

func TestActiveMembersCommand(t *testing.T) {
	poprako := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/members/active" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query(); got.Get("team_id") != "t1" || got.Get("page") != "1" || got.Get("limit") != "10" {
			t.Errorf("查询参数不符: %v", got)
		}
		fmt.Fprint(w, `{"code":200,"data":[
			{"member_id":"m1","user_id":"u1","username":"alice","last_active":"2026-08-01T12:00:00Z"},
			{"member_id":"m2","user_id":"u2","username":"bob"}
		]}`)
	})
	env := newTestServer(t, nil, poprako)

	resp := env.request(t, "POST", "/api/commands/members/active", map[string]any{
		"team_id": "t1",
		"page":    1,
		"limit":   10,
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("活跃成员命令应成功，得到 %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var body struct {
		Items []api.Member `json:"items"`
	}
	decodeBody(t, resp, &body)
	if len(body.Items) != 2 {
		t.Fatalf("成员数量不符: %d", len(body.Items))
	}
	if body.Items[0].LastActive == nil || *body.Items[0].LastActive != 1785585600 {
		t.Fatalf("last_active 应转换为 Unix 秒: %+v", body.Items[0].LastActive)
	}
	if body.Items[1].LastActive != nil {
		t.Fatalf("缺失 last_active 应保持 null")
	}
}

func TestCacheCommandFlow(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "png-bytes")
	}))
	t.Cleanup(images.Close)

	env := newTestServer(t, nil, nil)

	files := []map[string]string{
		{"url": images.URL + "/pages/0.png"},
		{"url": images.URL + "/pages/1.png"},
	}
	resp := env.request(t, "POST", "/api/commands/cache/download_project_files", map[string]any{
		"project_id":   "p1",
		"project_name": "第一话",
		"files":        files,
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("下载命令应成功，得到 %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var cached struct {
		Cached bool `json:"cached"`
	}
	resp = env.request(t, "POST", "/api/commands/cache/check_file_cache", map[string]string{"project_id": "p1"})
	decodeBody(t, resp, &cached)
	if !cached.Cached {
		t.Fatalf("下载后应报告已缓存")
	}

	var info struct {
		Project *storage.ProjectCacheRecord `json:"project"`
	}
	resp = env.request(t, "POST", "/api/commands/cache/get_cached_project_info", map[string]string{"project_id": "p1"})
	decodeBody(t, resp, &info)
	if info.Project == nil || info.Project.Status != storage.CacheStatusCompleted || info.Project.FileCount != 2 {
		t.Fatalf("缓存元数据不符: %+v", info.Project)
	}

	var listing struct {
		Projects []storage.ProjectCacheRecord `json:"projects"`
	}
	resp = env.request(t, "POST", "/api/commands/cache/get_all_cached_projects_list", nil)
	decodeBody(t, resp, &listing)
	if len(listing.Projects) != 1 || listing.Projects[0].ProjectID != "p1" {
		t.Fatalf("缓存列表不符: %+v", listing.Projects)
	}

	var file imagecache.CachedFileData
	resp = env.request(t, "POST", "/api/commands/cache/load_cached_file", map[string]any{
		"project_id": "p1",
		"file_index": 1,
	})
	decodeBody(t, resp, &file)
	decoded, err := base64.StdEncoding.DecodeString(file.B64)
	if err != nil || string(decoded) != "png-bytes" {
		t.Fatalf("读取缓存文件不符: %q, %v", decoded, err)
	}
	if file.ContentType != "image/png" {
		t.Fatalf("content type 不符: %s", file.ContentType)
	}

	resp = env.request(t, "POST", "/api/commands/cache/delete_file_cache", map[string]string{"project_id": "p1"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("删除命令应成功，得到 %d", resp.StatusCode)
	}

	cached.Cached = false
	resp = env.request(t, "POST", "/api/commands/cache/check_file_cache", map[string]string{"project_id": "p1"})
	decodeBody(t, resp, &cached)
	if cached.Cached {
		t.Fatalf("删除后不应再报告缓存")
	}
}

func TestLoadCachedFileMissingReturns404(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.request(t, "POST", "/api/commands/cache/load_cached_file", map[string]any{
		"project_id": "absent",
		"file_index": 0,
	})
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("缓存缺失应返回 404，得到 %d", resp.StatusCode)
	}
	if !strings.Contains(readBody(t, resp), "缓存目录不存在") {
		t.Fatalf("错误外壳应说明缓存目录缺失")
	}
}

type testServer struct {
	app    *fiber.App
	tokens *token.Manager
}

// newTestServer 组装真实依赖的命令面：SQLite 存储、真实 API 客户端与
// httptest 上游。未提供的上游用 404 兜底。
func newTestServer(t *testing.T, moetranHandler, poprakoHandler http.Handler) *testServer {
	t.Helper()

	if moetranHandler == nil {
		moetranHandler = http.NotFoundHandler()
	}
	if poprakoHandler == nil {
		poprakoHandler = http.NotFoundHandler()
	}

	moetranUpstream := httptest.NewServer(moetranHandler)
	t.Cleanup(moetranUpstream.Close)
	poprakoUpstream := httptest.NewServer(poprakoHandler)
	t.Cleanup(poprakoUpstream.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.Open(filepath.Join(t.TempDir(), "companion.db"))
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tokens := token.NewManager(store)
	httpClient := api.NewHTTPClient(2 * time.Second)

	moetranClient, err := api.NewClient(moetranUpstream.URL+"/v1/", httpClient, logger, api.MoetranDefaultHeaders(), func() string {
		return tokens.Cached(token.NameMoetran)
	})
	if err != nil {
		t.Fatalf("构造 Moetran 客户端失败: %v", err)
	}
	poprakoClient, err := api.NewClient(poprakoUpstream.URL+"/api/v1/", httpClient, logger, api.PoprakoDefaultHeaders(), func() string {
		return tokens.Cached(token.NamePoprako)
	})
	if err != nil {
		t.Fatalf("构造 Poprako 客户端失败: %v", err)
	}

	cacheManager := imagecache.NewManager(filepath.Join(t.TempDir(), "images"), moetranClient.FetchBytes, store, logger)

	app, err := NewApp(Options{
		Logger:  logger,
		Moetran: api.NewMoetran(moetranClient),
		Poprako: api.NewPoprako(poprakoClient),
		Tokens:  tokens,
		Cache:   cacheManager,
	})
	if err != nil {
		t.Fatalf("构造应用失败: %v", err)
	}

	return &testServer{app: app, tokens: tokens}
}

// request 发送 JSON 命令请求并返回响应。body 为 nil 时发送空 JSON 对象。
func (s *testServer) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("序列化请求体失败: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("解析响应体失败: %v", err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应体失败: %v", err)
	}
	return string(data)
}
