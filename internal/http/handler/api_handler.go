package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sifan077/shorturl/internal/app/model"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/app/service"
	"github.com/sifan077/shorturl/internal/app/shortcode"
	"github.com/sifan077/shorturl/internal/http/middleware"
	infraPrometheus "github.com/sifan077/shorturl/internal/infra/prometheus"
	"go.uber.org/zap"
)

// Query parameter layouts accepted by the analytics endpoints.
const (
	DateTimeLayout = "2006-01-02T15:04:05"
	DateLayout     = model.DateLayout
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Links     service.LinkService
	Analytics service.AnalyticsService
	Metrics   *infraPrometheus.Metrics
	// Location interprets the date and date-time query parameters.
	// Defaults to UTC.
	Location *time.Location
}

// APIHandler implements the authenticated /api/urls endpoints.
type APIHandler struct {
	logger    *zap.Logger
	links     service.LinkService
	analytics service.AnalyticsService
	metrics   *infraPrometheus.Metrics
	loc       *time.Location
	validate  *validator.Validate
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &APIHandler{
		logger:    logger,
		links:     deps.Links,
		analytics: deps.Analytics,
		metrics:   deps.Metrics,
		loc:       loc,
		validate:  validator.New(),
	}
}

// Register wires API routes onto the provided router behind auth.
func (h *APIHandler) Register(router fiber.Router, auth fiber.Handler) {
	urls := router.Group("/api/urls", auth)
	{
		urls.Post("/shorten", h.CreateShortLink)
		urls.Get("/myurls", h.ListShortLinks)
		urls.Get("/analytics/:shortUrl", h.ClicksByCode)
		urls.Get("/totalClicks", h.TotalClicks)
	}
}

// ShortenRequest is the body of POST /api/urls/shorten.
type ShortenRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required"`
}

// LinkResponse is the public shape of a short link.
type LinkResponse struct {
	ID          int64     `json:"id"`
	OriginalURL string    `json:"originalUrl"`
	ShortURL    string    `json:"shortUrl"`
	ClickCount  int64     `json:"clickCount"`
	CreatedDate time.Time `json:"createdDate"`
	Username    string    `json:"username"`
}

func toLinkResponse(link *model.Link, owner model.Owner) LinkResponse {
	return LinkResponse{
		ID:          link.ID,
		OriginalURL: link.OriginalURL,
		ShortURL:    link.Code(),
		ClickCount:  link.ClickCount,
		CreatedDate: link.CreatedAt,
		Username:    owner.Username,
	}
}

// CreateShortLink handles POST /api/urls/shorten
func (h *APIHandler) CreateShortLink(c *fiber.Ctx) error {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req ShortenRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "originalUrl is required")
	}

	link, err := h.links.CreateShortLink(c.UserContext(), req.OriginalURL, owner.ID)
	if err != nil {
		return h.serviceError(c, err, "failed to create short link")
	}

	if h.metrics != nil {
		h.metrics.LinksCreated.Inc()
	}

	return c.JSON(toLinkResponse(link, owner))
}

// ListShortLinks handles GET /api/urls/myurls
func (h *APIHandler) ListShortLinks(c *fiber.Ctx) error {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized")
	}

	links, err := h.links.ListShortLinks(c.UserContext(), owner.ID)
	if err != nil {
		return h.serviceError(c, err, "failed to list short links")
	}

	response := make([]LinkResponse, len(links))
	for i := range links {
		response[i] = toLinkResponse(&links[i], owner)
	}
	return c.JSON(response)
}

// ClicksByCode handles GET /api/urls/analytics/:shortUrl
func (h *APIHandler) ClicksByCode(c *fiber.Ctx) error {
	code := utils.CopyString(c.Params("shortUrl"))
	if !shortcode.IsValid(code) {
		return errorJSON(c, fiber.StatusNotFound, "short link not found")
	}

	start, err := time.ParseInLocation(DateTimeLayout, c.Query("startDate"), h.loc)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "startDate must look like "+DateTimeLayout)
	}
	end, err := time.ParseInLocation(DateTimeLayout, c.Query("endDate"), h.loc)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "endDate must look like "+DateTimeLayout)
	}

	clicks, err := h.analytics.ClicksByCodeAndRange(c.UserContext(), code, start, end)
	if err != nil {
		return h.serviceError(c, err, "failed to load click analytics")
	}

	return c.JSON(clicks.Sorted())
}

// TotalClicks handles GET /api/urls/totalClicks
func (h *APIHandler) TotalClicks(c *fiber.Ctx) error {
	owner, ok := middleware.OwnerFrom(c)
	if !ok {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized")
	}

	startDate, err := time.ParseInLocation(DateLayout, c.Query("startDate"), h.loc)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "startDate must look like "+DateLayout)
	}
	endDate, err := time.ParseInLocation(DateLayout, c.Query("endDate"), h.loc)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "endDate must look like "+DateLayout)
	}

	clicks, err := h.analytics.ClicksByOwnerAndDateRange(c.UserContext(), owner.ID, startDate, endDate)
	if err != nil {
		return h.serviceError(c, err, "failed to load click totals")
	}

	return c.JSON(clicks)
}

// serviceError maps a service error onto a status code. Unexpected errors
// are logged and reported as msg.
func (h *APIHandler) serviceError(c *fiber.Ctx, err error, msg string) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrLinkNotFound):
		return errorJSON(c, fiber.StatusNotFound, "short link not found")
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(msg, zap.Error(err), zap.String("request_id", middleware.RequestIDFrom(c)))
		return errorJSON(c, fiber.StatusGatewayTimeout, "storage timeout")
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.RequestIDFrom(c)))
		return errorJSON(c, fiber.StatusInternalServerError, msg)
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
