package server

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/moetran/companion/internal/api"
	"github.com/moetran/companion/internal/imagecache"
	"github.com/moetran/companion/internal/logging"
	"github.com/moetran/companion/internal/token"
)

// registerCommandRoutes 注册全部命令端点。路径与原生客户端的命令名一一对应。
func registerCommandRoutes(app *fiber.App, opts Options) {
	commands := app.Group("/api/commands")

	registerAuthRoutes(commands, opts)
	registerTokenRoutes(commands, opts)
	registerProxyRoutes(commands, opts)
	registerCacheRoutes(commands, opts)
}

func registerAuthRoutes(commands fiber.Router, opts Options) {
	commands.Post("/auth/get_captcha", func(c fiber.Ctx) error {
		resp, err := opts.Moetran.GetCaptcha(requestContext(c))
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(resp)
	})

	commands.Post("/auth/request_token", func(c fiber.Ctx) error {
		var payload api.LoginRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		resp, err := opts.Moetran.RequestToken(requestContext(c), payload)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(resp)
	})

	commands.Post("/auth/login_poprako", func(c fiber.Ctx) error {
		var payload api.PoprakoLoginRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		resp, err := opts.Poprako.Login(requestContext(c), payload)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(resp)
	})
}

func registerTokenRoutes(commands fiber.Router, opts Options) {
	// 服务名 → tokens 表行名
	names := map[string]string{
		"moetran": token.NameMoetran,
		"poprako": token.NamePoprako,
	}

	resolveName := func(c fiber.Ctx) (string, bool) {
		name, ok := names[c.Params("service")]
		return name, ok
	}

	commands.Post("/tokens/:service/get", func(c fiber.Ctx) error {
		name, ok := resolveName(c)
		if !ok {
			return renderError(c, fiber.StatusNotFound, errUnknownService)
		}
		value, err := opts.Tokens.Get(requestContext(c), name)
		if err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		if value == "" {
			return c.JSON(fiber.Map{"token": nil})
		}
		return c.JSON(fiber.Map{"token": value})
	})

	commands.Post("/tokens/:service/save", func(c fiber.Ctx) error {
		name, ok := resolveName(c)
		if !ok {
			return renderError(c, fiber.StatusNotFound, errUnknownService)
		}
		var payload struct {
			Token string `json:"token"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		if err := opts.Tokens.Save(requestContext(c), name, payload.Token); err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(fiber.Map{})
	})

	commands.Post("/tokens/:service/remove", func(c fiber.Ctx) error {
		name, ok := resolveName(c)
		if !ok {
			return renderError(c, fiber.StatusNotFound, errUnknownService)
		}
		if err := opts.Tokens.Remove(requestContext(c), name); err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(fiber.Map{})
	})
}

func registerProxyRoutes(commands fiber.Router, opts Options) {
	type pagedRequest struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}

	commands.Post("/user/info", func(c fiber.Ctx) error {
		user, err := opts.Moetran.GetUserInfo(requestContext(c))
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(user)
	})

	commands.Post("/user/teams", func(c fiber.Ctx) error {
		var payload pagedRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		teams, err := opts.Moetran.GetUserTeams(requestContext(c), payload.Page, payload.Limit)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(fiber.Map{"items": teams})
	})

	commands.Post("/user/projects", func(c fiber.Ctx) error {
		var payload pagedRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		projects, err := opts.Moetran.GetUserProjects(requestContext(c), payload.Page, payload.Limit)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(fiber.Map{"items": projects})
	})

	commands.Post("/teams/project_sets", func(c fiber.Ctx) error {
		var payload struct {
			TeamID string `json:"team_id"`
			Page   int    `json:"page"`
			Limit  int    `json:"limit"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		sets, err := opts.Moetran.GetTeamProjectSets(requestContext(c), payload.TeamID, payload.Page, payload.Limit)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(fiber.Map{"items": sets})
	})

	commands.Post("/teams/projects", func(c fiber.Ctx) error {
		var payload struct {
			TeamID     string `json:"team_id"`
			ProjectSet string `json:"project_set"`
			Page       int    `json:"page"`
			Limit      int    `json:"limit"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		projects, err := opts.Moetran.GetTeamProjects(requestContext(c), payload.TeamID, payload.ProjectSet, payload.Page, payload.Limit)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}
		return c.JSON(fiber.Map{"items": projects})
	})

	commands.Post("/members/search", func(c fiber.Ctx) error {
		var payload api.MemberSearchRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}

		opts.Logger.WithFields(logging.CommandFields("members.search", RequestID(c))).Info("poprako.members.request")

		guard := logging.NewOpGuard(opts.Logger, "poprako.members.request")
		defer guard.Done()

		members, err := opts.Poprako.SearchMembers(requestContext(c), payload)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}

		guard.Success()
		return c.JSON(fiber.Map{"items": members})
	})

	commands.Post("/members/info", func(c fiber.Ctx) error {
		var payload struct {
			TeamID string `json:"team_id"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}

		opts.Logger.WithFields(logging.CommandFields("members.info", RequestID(c))).Info("poprako.member.info.request")

		guard := logging.NewOpGuard(opts.Logger, "poprako.member.info.request")
		defer guard.Done()

		info, err := opts.Poprako.GetMemberInfo(requestContext(c), payload.TeamID)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}

		guard.Success()
		return c.JSON(info)
	})

	commands.Post("/members/active", func(c fiber.Ctx) error {
		var payload struct {
			TeamID string `json:"team_id"`
			Page   *int   `json:"page"`
			Limit  *int   `json:"limit"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}

		opts.Logger.WithFields(logging.CommandFields("members.active", RequestID(c))).Info("poprako.members.active.request")

		guard := logging.NewOpGuard(opts.Logger, "poprako.members.active.request")
		defer guard.Done()

		members, err := opts.Poprako.GetActiveMembers(requestContext(c), payload.TeamID, payload.Page, payload.Limit)
		if err != nil {
			return renderError(c, fiber.StatusBadGateway, err)
		}

		guard.Success()
		return c.JSON(fiber.Map{"items": members})
	})

	commands.Post("/notify/update", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"has_update": opts.Poprako.CheckUpdate(requestContext(c)),
		})
	})
}

func registerCacheRoutes(commands fiber.Router, opts Options) {
	type projectRequest struct {
		ProjectID string `json:"project_id"`
	}

	commands.Post("/cache/check_file_cache", func(c fiber.Ctx) error {
		var payload projectRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		return c.JSON(fiber.Map{
			"cached": opts.Cache.CheckFileCache(payload.ProjectID),
		})
	})

	commands.Post("/cache/download_project_files", func(c fiber.Ctx) error {
		var payload struct {
			ProjectID   string                        `json:"project_id"`
			ProjectName string                        `json:"project_name"`
			Files       []imagecache.FileDownloadInfo `json:"files"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		if err := opts.Cache.DownloadProjectFiles(requestContext(c), payload.ProjectID, payload.ProjectName, payload.Files); err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(fiber.Map{})
	})

	commands.Post("/cache/delete_file_cache", func(c fiber.Ctx) error {
		var payload projectRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		if err := opts.Cache.DeleteFileCache(requestContext(c), payload.ProjectID); err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(fiber.Map{})
	})

	commands.Post("/cache/get_all_cached_projects_list", func(c fiber.Ctx) error {
		records, err := opts.Cache.ListCachedProjects(requestContext(c))
		if err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(fiber.Map{"projects": records})
	})

	commands.Post("/cache/get_cached_project_info", func(c fiber.Ctx) error {
		var payload projectRequest
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		record, err := opts.Cache.GetCachedProjectInfo(requestContext(c), payload.ProjectID)
		if err != nil {
			return renderError(c, fiber.StatusInternalServerError, err)
		}
		if record == nil {
			return c.JSON(fiber.Map{"project": nil})
		}
		return c.JSON(fiber.Map{"project": record})
	})

	commands.Post("/cache/load_cached_file", func(c fiber.Ctx) error {
		var payload struct {
			ProjectID string `json:"project_id"`
			FileIndex int    `json:"file_index"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return renderError(c, fiber.StatusBadRequest, err)
		}
		data, err := opts.Cache.LoadCachedFile(payload.ProjectID, payload.FileIndex)
		if err != nil {
			return renderError(c, fiber.StatusNotFound, err)
		}
		return c.JSON(data)
	})
}

// requestContext 取出请求级 context；Fiber 保证非 nil，这里兜底。
func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var errUnknownService = fiber.NewError(fiber.StatusNotFound, "unknown token service")
