// Package server exposes the companion commands over a loopback HTTP
// surface. Every command is a JSON POST under /api/commands, mirroring the
// request/response IPC style of the desktop shell: no streaming, one reply
// per request, errors flattened to an {"error": "..."} envelope.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moetran/companion/internal/api"
	"github.com/moetran/companion/internal/imagecache"
	"github.com/moetran/companion/internal/token"
	"github.com/moetran/companion/internal/version"
)

// Options 汇总命令处理所需的全部依赖，便于测试注入。
type Options struct {
	Logger  *logrus.Logger
	Moetran *api.Moetran
	Poprako *api.Poprako
	Tokens  *token.Manager
	Cache   *imagecache.Manager
}

const contextKeyRequestID = "_companion_request_id"

// NewApp builds the Fiber application with request-ID middleware and the
// full command surface registered.
func NewApp(opts Options) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Moetran == nil || opts.Poprako == nil {
		return nil, errors.New("api clients are required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache manager is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	registerCommandRoutes(app, opts)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头，供日志关联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// renderError 把内部错误展平为统一的 JSON 外壳。
func renderError(c fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
