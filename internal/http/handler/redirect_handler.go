package handler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/app/service"
	"github.com/sifan077/shorturl/internal/app/shortcode"
	"github.com/sifan077/shorturl/internal/http/middleware"
	infraPrometheus "github.com/sifan077/shorturl/internal/infra/prometheus"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger  *zap.Logger
	Links   service.LinkService
	Metrics *infraPrometheus.Metrics
	// Checks are run by GET /health/ready, keyed by dependency name.
	Checks map[string]ReadinessCheck
}

// RedirectHandler implements the public redirect and health endpoints.
type RedirectHandler struct {
	logger  *zap.Logger
	links   service.LinkService
	metrics *infraPrometheus.Metrics
	checks  map[string]ReadinessCheck
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:  logger,
		links:   deps.Links,
		metrics: deps.Metrics,
		checks:  deps.Checks,
	}
}

// Register wires redirect routes onto the provided router. It must be
// registered after the API routes because /:shortUrl matches any segment.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/health/ready", h.Ready)
	router.Get("/:shortUrl", h.Resolve)
}

// Health is a liveness probe.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "shorturl",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every readiness check and answers 503 if any of them fails.
func (h *RedirectHandler) Ready(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := fiber.StatusOK
	results := make(fiber.Map, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
	})
}

// Resolve handles GET /:shortUrl, counting the click and redirecting with 302.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := utils.CopyString(c.Params("shortUrl"))
	if !shortcode.IsValid(code) {
		h.observe(infraPrometheus.ResultNotFound)
		return errorJSON(c, fiber.StatusNotFound, "short link not found")
	}

	link, err := h.links.Resolve(c.UserContext(), code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			h.observe(infraPrometheus.ResultNotFound)
			return errorJSON(c, fiber.StatusNotFound, "short link not found")
		}
		h.observe(infraPrometheus.ResultError)
		h.logger.Error("failed to resolve short link",
			zap.Error(err),
			zap.String("code", code),
			zap.String("request_id", middleware.RequestIDFrom(c)),
		)
		return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
	}

	h.observe(infraPrometheus.ResultFound)
	h.logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", link.OriginalURL))
	return c.Redirect(link.OriginalURL, fiber.StatusFound)
}

func (h *RedirectHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.Resolutions.WithLabelValues(result).Inc()
	}
}
