package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/LinkSwift/internal/app/repository"
	"github.com/sifan077/LinkSwift/internal/app/service"
	"github.com/sifan077/LinkSwift/internal/auth"
	inthttp "github.com/sifan077/LinkSwift/internal/http/handler"
	"github.com/sifan077/LinkSwift/internal/http/middleware"
	httpUtil "github.com/sifan077/LinkSwift/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles infrastructure dependencies required by the HTTP server.
type Dependencies struct {
	Logger      *zap.Logger
	Postgres    *pgxpool.Pool
	Redis       redis.Cmdable
	Cache       repository.LinkCache
	LinkService service.LinkService
	Verifier    *auth.Verifier
	Grants      *httpUtil.GrantSigner
	RateLimit   *middleware.RateLimitConfig
}

// Options are the HTTP-facing settings of the server.
type Options struct {
	BaseURL      string
	LoginURL     string
	CORSOrigin   string
	SecureCookie bool
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
	opts Options
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "LinkSwift",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
		opts: opts,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	if s.opts.CORSOrigin != "" {
		s.app.Use(middleware.CORS(s.opts.CORSOrigin))
	}
	s.app.Use(middleware.Authenticate(s.deps.Verifier, s.deps.Logger))
}

func (s *Server) registerRoutes() {
	var createLimiter fiber.Handler
	if s.deps.RateLimit != nil && s.deps.Redis != nil {
		createLimiter = middleware.RateLimit(s.deps.Redis, *s.deps.RateLimit, s.deps.Logger)
	}

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:        s.deps.Logger,
		LinkService:   s.deps.LinkService,
		BaseURL:       s.opts.BaseURL,
		LoginURL:      s.opts.LoginURL,
		CreateLimiter: createLimiter,
	})
	apiHandler.Register(s.app)

	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:       s.deps.Logger,
		LinkService:  s.deps.LinkService,
		Grants:       s.deps.Grants,
		LoginURL:     s.opts.LoginURL,
		SecureCookie: s.opts.SecureCookie,
		Readiness:    s.readinessChecks(),
	})
	// Registered last: its /:key route would shadow everything after it.
	redirectHandler.Register(s.app)
}

func (s *Server) readinessChecks() []inthttp.ReadinessCheck {
	var checks []inthttp.ReadinessCheck
	if s.deps.Postgres != nil {
		checks = append(checks, inthttp.ReadinessCheck{Name: "postgres", Check: s.deps.Postgres.Ping})
	}
	if s.deps.Cache != nil {
		checks = append(checks, inthttp.ReadinessCheck{Name: "redis", Check: s.deps.Cache.Ping})
	}
	return checks
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiberErr.Message,
			})
		}
		logger.Error("unhandled request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
}
