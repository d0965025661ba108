package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/sifan077/LinkSwift/internal/app/service"
	"github.com/sifan077/LinkSwift/internal/http/middleware"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	BaseURL     string
	LoginURL    string
	// CreateLimiter guards link creation; nil disables it.
	CreateLimiter fiber.Handler
}

// APIHandler implements the link management endpoints.
type APIHandler struct {
	logger        *zap.Logger
	linkService   service.LinkService
	baseURL       string
	loginURL      string
	createLimiter fiber.Handler
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:        logger,
		linkService:   deps.LinkService,
		baseURL:       strings.TrimRight(deps.BaseURL, "/"),
		loginURL:      deps.LoginURL,
		createLimiter: deps.CreateLimiter,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	create := []fiber.Handler{h.CreateLink}
	if h.createLimiter != nil {
		create = append([]fiber.Handler{h.createLimiter}, create...)
	}

	requireAuth := middleware.RequireAuth(h.loginURL)
	router.Post("/links", create...)
	router.Get("/links", requireAuth, h.ListLinks)
	router.Get("/links/:key/analytics", requireAuth, h.GetAnalytics)
	router.Delete("/links/:key", requireAuth, h.DeleteLink)
	router.Get("/check/:key", h.CheckLink)
}

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	URL      string `json:"url" form:"url" validate:"max=4096"`
	Senha    string `json:"senha,omitempty" form:"senha" validate:"max=72"`
	Nome     string `json:"nome,omitempty" form:"nome" validate:"max=120"`
	ExpiraEm int    `json:"expira_em,omitempty" form:"expira_em" validate:"min=0"`
	Privado  bool   `json:"privado,omitempty" form:"privado"`
	// Handshake selects one-time token access for a private link.
	Handshake *bool `json:"handshake,omitempty" form:"handshake"`
}

// CreateLinkResponse represents the response for creating a link.
type CreateLinkResponse struct {
	Message   string    `json:"message"`
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expira_em"`
	Token     string    `json:"token,omitempty"`
}

// LinkResponse is the dashboard view of an owned link.
type LinkResponse struct {
	Key              string          `json:"key"`
	ShortURL         string          `json:"shortUrl"`
	URL              string          `json:"url"`
	Name             *string         `json:"nome"`
	Access           model.Access    `json:"access"`
	Private          bool            `json:"privado"`
	PasswordRequired bool            `json:"senhaNecessaria"`
	ExpiresAt        time.Time       `json:"expira_em"`
	CreatedAt        time.Time       `json:"criado_em"`
	Analytics        model.Analytics `json:"analytics"`
}

// CreateLink handles POST /links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.linkService.CreateLink(c.UserContext(), service.CreateLinkInput{
		URL:          strings.TrimSpace(req.URL),
		Password:     req.Senha,
		Name:         req.Nome,
		ExpireInDays: req.ExpiraEm,
		Private:      req.Privado,
		Handshake:    req.Handshake,
		CallerID:     middleware.CallerID(c),
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateLinkResponse{
		Message:   "link shortened successfully",
		URL:       result.ShortURL,
		Key:       result.Link.Key,
		ExpiresAt: result.Link.ExpiresAt,
		Token:     result.HandshakeToken,
	})
}

// CheckLink handles GET /check/:key
func (h *APIHandler) CheckLink(c *fiber.Ctx) error {
	check, err := h.linkService.CheckLink(c.UserContext(), c.Params("key"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"privado":         check.Private,
		"senhaNecessaria": check.PasswordRequired,
		"url":             check.URL,
	})
}

// ListLinks handles GET /links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	limit := 20
	offset := 0
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
		limit = parsed
	}
	if parsed := c.QueryInt("offset"); parsed >= 0 {
		offset = parsed
	}

	links, err := h.linkService.ListLinks(c.UserContext(), middleware.CallerID(c), limit, offset)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	response := make([]LinkResponse, len(links))
	for i := range links {
		response[i] = h.linkResponse(&links[i])
	}

	return c.JSON(fiber.Map{
		"links":  response,
		"limit":  limit,
		"offset": offset,
		"count":  len(response),
	})
}

// GetAnalytics handles GET /links/:key/analytics
func (h *APIHandler) GetAnalytics(c *fiber.Ctx) error {
	analytics, err := h.linkService.GetAnalytics(c.UserContext(), c.Params("key"), middleware.CallerID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(analytics)
}

// DeleteLink handles DELETE /links/:key
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.linkService.DeleteLink(c.UserContext(), c.Params("key"), middleware.CallerID(c)); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"message": "link deleted"})
}

func (h *APIHandler) linkResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		Key:              link.Key,
		ShortURL:         h.baseURL + "/" + link.Key,
		URL:              link.URL,
		Name:             link.Name,
		Access:           link.Access,
		Private:          link.Private(),
		PasswordRequired: link.Access == model.AccessPassword,
		ExpiresAt:        link.ExpiresAt,
		CreatedAt:        link.CreatedAt,
		Analytics:        link.Analytics(),
	}
}
