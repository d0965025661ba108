package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkSwift/internal/app/service"
	"github.com/sifan077/LinkSwift/internal/http/middleware"
	httpUtil "github.com/sifan077/LinkSwift/internal/http/util"
	"github.com/sifan077/LinkSwift/internal/http/view"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency probed by /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger       *zap.Logger
	LinkService  service.LinkService
	Grants       *httpUtil.GrantSigner
	LoginURL     string
	SecureCookie bool
	Readiness    []ReadinessCheck
}

// RedirectHandler implements resolution, the access pages and the handshake flow.
type RedirectHandler struct {
	logger       *zap.Logger
	linkService  service.LinkService
	grants       *httpUtil.GrantSigner
	loginURL     string
	secureCookie bool
	readiness    []ReadinessCheck
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:       logger,
		linkService:  deps.LinkService,
		grants:       deps.Grants,
		loginURL:     deps.LoginURL,
		secureCookie: deps.SecureCookie,
		readiness:    deps.Readiness,
	}
}

// Register wires redirect routes onto the provided router. The bare /:key route
// matches almost anything, so Register must run after every other handler.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/health/ready", h.Ready)

	router.Post("/handshake/verify", h.VerifyHandshake)
	router.Get("/handshake/:key", h.HandshakePage)
	router.Get("/password/:key", h.PasswordPage)
	router.Post("/private/:key", middleware.RequireAuth(h.loginURL), h.ResolvePrivate)
	router.Get("/protected/:key", h.ResolveProtected)
	router.Get("/r/:key", h.Resolve)
	router.Get("/:key", h.Resolve)
}

// Health is a simple root endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "LinkSwift",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready probes the backing stores.
func (h *RedirectHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	status := fiber.StatusOK
	checks := fiber.Map{}
	for _, check := range h.readiness {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", check.Name), zap.Error(err))
			checks[check.Name] = "unavailable"
			status = fiber.StatusServiceUnavailable
			continue
		}
		checks[check.Name] = "ok"
	}

	state := "ready"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}

// Resolve handles GET /:key and GET /r/:key.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	input := h.resolveInput(c)
	input.Password = c.Query("senha")

	resolution, err := h.linkService.Resolve(c.UserContext(), input)
	if err != nil {
		return h.resolveError(c, err)
	}

	h.logger.Debug("redirecting short link", zap.String("key", resolution.Key))
	return c.Redirect(resolution.URL, fiber.StatusFound)
}

// ResolveProtected handles GET /protected/:key?senha=
func (h *RedirectHandler) ResolveProtected(c *fiber.Ctx) error {
	input := h.resolveInput(c)
	input.Password = c.Query("senha")

	resolution, err := h.linkService.ResolveProtected(c.UserContext(), input)
	if err != nil {
		if service.KindOf(err) == service.KindInvalidPassword && wantsHTML(c) {
			return h.renderPage(c, fiber.StatusUnauthorized, view.AccessPageData{
				Key:    input.Key,
				Mode:   view.ModePassword,
				Action: "/protected/" + input.Key,
				Error:  "Incorrect password.",
			})
		}
		return writeError(c, h.logger, err)
	}
	return c.Redirect(resolution.URL, fiber.StatusFound)
}

// ResolvePrivate handles POST /private/:key and returns the destination as JSON.
func (h *RedirectHandler) ResolvePrivate(c *fiber.Ctx) error {
	resolution, err := h.linkService.ResolvePrivate(c.UserContext(), h.resolveInput(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"message": "access granted",
		"url":     resolution.URL,
	})
}

// HandshakeVerifyRequest is the body of POST /handshake/verify.
type HandshakeVerifyRequest struct {
	Key   string `json:"key" form:"key" validate:"required,max=64"`
	Token string `json:"token" form:"token" validate:"required,max=128"`
}

// VerifyHandshake consumes a one-time token and hands the browser a grant cookie
// scoped to the link.
func (h *RedirectHandler) VerifyHandshake(c *fiber.Ctx) error {
	var req HandshakeVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Key = strings.TrimSpace(req.Key)
	req.Token = strings.TrimSpace(req.Token)
	if err := validateRequest(req); err != nil {
		return badRequest(c, "key and token are required")
	}

	resolution, err := h.linkService.VerifyHandshake(c.UserContext(), service.HandshakeInput{
		Key:       req.Key,
		Token:     req.Token,
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		if !c.Is("json") && wantsHTML(c) && service.KindOf(err) != service.KindInternal {
			return h.renderPage(c, statusFor(service.KindOf(err)), view.AccessPageData{
				Key:    req.Key,
				Mode:   view.ModeHandshake,
				Action: "/handshake/verify",
				Error:  errorMessage(err),
			})
		}
		return writeError(c, h.logger, err)
	}

	h.setGrant(c, resolution.Key)

	if c.Is("json") {
		return c.JSON(fiber.Map{
			"message": "handshake verified",
			"url":     resolution.URL,
		})
	}
	return c.Redirect(resolution.URL, fiber.StatusFound)
}

// PasswordPage handles GET /password/:key
func (h *RedirectHandler) PasswordPage(c *fiber.Ctx) error {
	key := c.Params("key")
	return h.renderPage(c, fiber.StatusOK, view.AccessPageData{
		Title:  "Password required",
		Key:    key,
		Mode:   view.ModePassword,
		Action: "/protected/" + key,
	})
}

// HandshakePage handles GET /handshake/:key
func (h *RedirectHandler) HandshakePage(c *fiber.Ctx) error {
	return h.renderPage(c, fiber.StatusOK, view.AccessPageData{
		Title:  "Access token required",
		Key:    c.Params("key"),
		Mode:   view.ModeHandshake,
		Action: "/handshake/verify",
	})
}

func (h *RedirectHandler) resolveInput(c *fiber.Ctx) service.ResolveInput {
	key := c.Params("key")
	return service.ResolveInput{
		Key:       key,
		CallerID:  middleware.CallerID(c),
		Grant:     h.hasGrant(c, key),
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

// resolveError sends browsers to the page named by the error; API clients get JSON.
func (h *RedirectHandler) resolveError(c *fiber.Ctx, err error) error {
	var svcErr *service.Error
	if errors.As(err, &svcErr) && svcErr.Redirect != "" && wantsHTML(c) {
		return c.Redirect(svcErr.Redirect, fiber.StatusFound)
	}
	return writeError(c, h.logger, err)
}

func (h *RedirectHandler) hasGrant(c *fiber.Ctx, key string) bool {
	if h.grants == nil || key == "" {
		return false
	}
	grant := c.Cookies(httpUtil.GrantCookieName(key))
	if grant == "" {
		return false
	}
	if err := h.grants.Validate(key, grant); err != nil {
		if !errors.Is(err, httpUtil.ErrInvalidGrant) {
			h.logger.Error("failed to validate grant", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return true
}

func (h *RedirectHandler) setGrant(c *fiber.Ctx, key string) {
	if h.grants == nil {
		return
	}
	grant, err := h.grants.Issue(key)
	if err != nil {
		h.logger.Error("failed to issue grant", zap.String("key", key), zap.Error(err))
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     httpUtil.GrantCookieName(key),
		Value:    grant,
		Path:     "/",
		MaxAge:   int(h.grants.TTL().Seconds()),
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *RedirectHandler) renderPage(c *fiber.Ctx, status int, data view.AccessPageData) error {
	html, err := view.RenderAccessPage(data)
	if err != nil {
		h.logger.Error("failed to render access page", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to render page",
		})
	}
	return c.Status(status).
		Type("html", "utf-8").
		SendString(html)
}

func wantsHTML(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML)
}

func errorMessage(err error) string {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return "request failed"
}
